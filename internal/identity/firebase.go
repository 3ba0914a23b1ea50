package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// FirebaseConfig holds the service account fields read from the environment.
type FirebaseConfig struct {
	ProjectID   string
	PrivateKey  string
	ClientEmail string
}

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseVerifier checks Firebase ID tokens through the Admin SDK.
type FirebaseVerifier struct {
	client idTokenVerifier
}

func NewFirebaseVerifier(ctx context.Context, cfg FirebaseConfig) (*FirebaseVerifier, error) {
	creds, err := serviceAccountJSON(cfg)
	if err != nil {
		return nil, err
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, option.WithCredentialsJSON(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase auth: %w", err)
	}

	return &FirebaseVerifier{client: client}, nil
}

func (f *FirebaseVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	decoded, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		if auth.IsIDTokenExpired(err) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	email, _ := decoded.Claims["email"].(string)
	return &Claims{Subject: decoded.UID, Email: email, Issuer: decoded.Issuer}, nil
}

// serviceAccountJSON builds a credentials document from discrete env values.
// Private keys pasted into env files usually carry literal \n sequences.
func serviceAccountJSON(cfg FirebaseConfig) ([]byte, error) {
	if cfg.ProjectID == "" || cfg.PrivateKey == "" || cfg.ClientEmail == "" {
		return nil, fmt.Errorf("incomplete firebase service account credentials")
	}
	return json.Marshal(map[string]string{
		"type":         "service_account",
		"project_id":   cfg.ProjectID,
		"private_key":  strings.ReplaceAll(cfg.PrivateKey, `\n`, "\n"),
		"client_email": cfg.ClientEmail,
		"token_uri":    "https://oauth2.googleapis.com/token",
	})
}
