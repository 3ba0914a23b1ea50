package providers

import (
	"fmt"
	"strings"
)

// splitDataURI splits "data:<mime>;base64,<data>" at the first comma and
// returns the mime type found between ':' and ';' in the header.
func splitDataURI(uri string) (mimeType, data string, err error) {
	header, data, ok := strings.Cut(uri, ",")
	if !ok {
		return "", "", fmt.Errorf("data uri has no payload separator")
	}
	_, rest, ok := strings.Cut(header, ":")
	if !ok {
		return "", "", fmt.Errorf("data uri header %q has no media type", header)
	}
	mimeType, _, _ = strings.Cut(rest, ";")
	if mimeType == "" {
		return "", "", fmt.Errorf("data uri header %q has an empty media type", header)
	}
	return mimeType, data, nil
}
