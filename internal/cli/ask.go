package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"nibras-backend/internal/models"
	"nibras-backend/internal/retry"
)

type askOptions struct {
	server   string
	provider string
	mode     string
	images   []string
	token    string
	timeout  time.Duration
	retries  int
	verbose  bool
}

func newAskCmd() *cobra.Command {
	opts := askOptions{}

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Send one question to the chat proxy and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, opts, strings.Join(args, " "))
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.server, "server", envOr("NIBRAS_SERVER", "http://localhost:3000"), "proxy base URL")
	f.StringVarP(&opts.provider, "provider", "p", "gemini", `upstream provider, "gemini" or "openai"`)
	f.StringVarP(&opts.mode, "mode", "m", models.ModeLearn, "tutoring mode: learn, examples, practice or workshop")
	f.StringSliceVarP(&opts.images, "image", "i", nil, "image file to attach (repeatable)")
	f.StringVar(&opts.token, "token", os.Getenv("NIBRAS_TOKEN"), "bearer token")
	f.DurationVar(&opts.timeout, "timeout", defaultAskTimeout(), "per-attempt timeout")
	f.IntVar(&opts.retries, "retries", retry.DefaultMaxRetries, "retries after the first attempt")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "print retry attempts")

	return cmd
}

func runAsk(cmd *cobra.Command, opts askOptions, text string) error {
	images := make([]string, 0, len(opts.images))
	for _, path := range opts.images {
		uri, err := imageDataURI(path)
		if err != nil {
			return err
		}
		images = append(images, uri)
	}

	client := retry.New(retry.Config{})
	if opts.verbose {
		warn := color.New(color.FgYellow)
		client = client.WithObserver(func(a retry.Attempt) {
			warn.Fprintf(cmd.ErrOrStderr(), "attempt %d failed (%s), retrying in %s\n", a.Number+1, a.Cause(), a.Delay.Round(time.Millisecond))
		})
	}

	caller := &Caller{
		Server: opts.server,
		Token:  opts.token,
		Client: client,
		Opts:   retry.Options{Timeout: opts.timeout, MaxRetries: opts.retries},
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	answer, err := caller.Send(ctx, models.ChatRequest{
		Provider: opts.provider,
		Text:     text,
		Images:   images,
		Context:  []models.Turn{},
		Mode:     opts.mode,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), answer)
	return nil
}

// defaultAskTimeout outlasts the proxy's slowest answer: every upstream
// attempt timing out, plus the capped backoff between them. A shorter
// per-attempt timeout would abandon a request the proxy is still working on
// and post it again.
func defaultAskTimeout() time.Duration {
	perAttempt := time.Duration(envIntOr("UPSTREAM_TIMEOUT_MS", 30000)) * time.Millisecond
	retries := envIntOr("UPSTREAM_MAX_RETRIES", retry.DefaultMaxRetries)
	if retries < 0 {
		retries = 0
	}
	return time.Duration(retries+1)*perAttempt + time.Duration(retries)*retry.DefaultMax + 10*time.Second
}

func envIntOr(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v >= 0 {
		return v
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
