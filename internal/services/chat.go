package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"nibras-backend/internal/metrics"
	"nibras-backend/internal/models"
	"nibras-backend/internal/providers"
	"nibras-backend/internal/retry"
)

const (
	DefaultUpstreamTimeout = 30 * time.Second
	DefaultUpstreamRetries = 3

	usageWriteTimeout = 3 * time.Second
	msgInternal       = "Internal server error"
	msgUpstreamAPI    = "API error"
)

// UsageRecorder persists one ledger row per dispatch.
type UsageRecorder interface {
	Record(ctx context.Context, d *models.DispatchRecord) error
}

// DispatchMeta identifies the caller for logs and the usage ledger.
type DispatchMeta struct {
	RequestID string
	Subject   string
}

type ChatService struct {
	registry *providers.Registry
	client   *retry.Client
	opts     retry.Options
	usage    UsageRecorder
	metrics  *metrics.Metrics
}

// NewChatService wires the dispatch pipeline. usage and m may be nil.
func NewChatService(registry *providers.Registry, client *retry.Client, opts retry.Options, usage UsageRecorder, m *metrics.Metrics) *ChatService {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultUpstreamTimeout
	}
	return &ChatService{
		registry: registry,
		client:   client,
		opts:     opts,
		usage:    usage,
		metrics:  m,
	}
}

// Dispatch sends a validated request upstream and always returns a result
// envelope. Failures of any kind, panics included, become {success:false}.
func (s *ChatService) Dispatch(ctx context.Context, req models.ChatRequest, meta DispatchMeta) (result models.ChatResult) {
	logger := zerolog.Ctx(ctx).With().
		Str("provider", req.Provider).
		Str("mode", req.Mode).
		Logger()

	start := time.Now()
	rec := &models.DispatchRecord{
		RequestID:    meta.RequestID,
		Provider:     req.Provider,
		Mode:         req.Mode,
		ImageCount:   len(req.Images),
		ContextTurns: len(req.Context),
	}
	if meta.Subject != "" {
		subject := meta.Subject
		rec.Subject = &subject
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("chat dispatch panicked")
			result = models.Failure(msgInternal)
			rec.Outcome = models.OutcomeUpstream
		}
		rec.DurationMS = time.Since(start).Milliseconds()
		s.finish(ctx, logger, rec, result)
	}()

	if err := ValidateChatRequest(req); err != nil {
		rec.Outcome = models.OutcomeInvalid
		return models.Failure(err.Error())
	}

	kind, _ := providers.ParseKind(req.Provider)
	adapter, err := s.registry.Adapter(kind)
	if err != nil {
		rec.Outcome = models.OutcomeUpstream
		return models.Failure(err.Error())
	}

	upstream, err := adapter.BuildRequest(req, providers.SystemPrompt(req.Mode))
	if err != nil {
		rec.Outcome = models.OutcomeInvalid
		return models.Failure(err.Error())
	}

	client := s.client.WithObserver(func(a retry.Attempt) {
		logger.Warn().
			Int("attempt", a.Number).
			Str("cause", a.Cause()).
			Dur("delay", a.Delay).
			Bool("retry_after", a.RetryAfter).
			Msg("retrying upstream call")
		if s.metrics != nil {
			s.metrics.UpstreamRetries.WithLabelValues(req.Provider, a.Cause()).Inc()
		}
	})

	resp, err := client.Do(ctx, upstream, s.opts)
	if err != nil {
		return s.upstreamFailure(logger, rec, err)
	}
	rec.Attempts = resp.Attempts
	status := resp.StatusCode
	rec.UpstreamStatus = &status

	text, err := adapter.ParseResponse(resp.Body)
	if err != nil {
		rec.Outcome = models.OutcomeUpstream
		logger.Error().Err(err).Msg("malformed upstream body")
		return models.Failure(err.Error())
	}

	rec.Outcome = models.OutcomeSuccess
	return models.Success(text)
}

func (s *ChatService) upstreamFailure(logger zerolog.Logger, rec *models.DispatchRecord, err error) models.ChatResult {
	rec.Outcome = models.OutcomeUpstream

	var re *retry.Error
	if !errors.As(err, &re) {
		logger.Error().Err(err).Msg("upstream call failed")
		return models.Failure(err.Error())
	}

	kind := re.Kind.String()
	rec.ErrorKind = &kind
	rec.Attempts = re.Attempts
	if re.StatusCode != 0 {
		status := re.StatusCode
		rec.UpstreamStatus = &status
	}
	if re.Kind == retry.KindCanceled {
		rec.Outcome = models.OutcomeCanceled
	}

	logger.Warn().
		Str("kind", kind).
		Int("status", re.StatusCode).
		Int("attempts", re.Attempts).
		Bool("exhausted", re.Exhausted).
		Msg("upstream call failed")

	if re.StatusCode != 0 {
		if msg := providers.UpstreamErrorMessage(re.Body); msg != "" {
			return models.Failure(msg)
		}
		if re.Kind == retry.KindStatus {
			return models.Failure(msgUpstreamAPI)
		}
	}
	return models.Failure(re.Error())
}

func (s *ChatService) finish(ctx context.Context, logger zerolog.Logger, rec *models.DispatchRecord, result models.ChatResult) {
	if s.metrics != nil {
		s.metrics.DispatchTotal.WithLabelValues(rec.Provider, rec.Outcome).Inc()
		s.metrics.DispatchDuration.WithLabelValues(rec.Provider).Observe(float64(rec.DurationMS) / 1000)
	}

	logger.Info().
		Str("outcome", rec.Outcome).
		Int("attempts", rec.Attempts).
		Int64("duration_ms", rec.DurationMS).
		Bool("success", result.Success).
		Msg("chat dispatch")

	if s.usage == nil {
		return
	}
	// The ledger row is written even when the caller went away.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageWriteTimeout)
	defer cancel()
	if err := s.usage.Record(wctx, rec); err != nil {
		logger.Error().Err(err).Msg("failed to record dispatch usage")
	}
}
