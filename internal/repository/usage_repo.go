package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"nibras-backend/internal/models"
)

type UsageRepo struct {
	pool *pgxpool.Pool
	sql  sq.StatementBuilderType
}

func NewUsageRepo(pool *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{pool: pool, sql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// Record appends one dispatch to the ledger. No message text is stored.
func (r *UsageRepo) Record(ctx context.Context, d *models.DispatchRecord) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}

	query, args, err := r.insertQuery(d).ToSql()
	if err != nil {
		return fmt.Errorf("build dispatch insert: %w", err)
	}
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&d.CreatedAt); err != nil {
		return fmt.Errorf("insert dispatch: %w", err)
	}
	return nil
}

func (r *UsageRepo) insertQuery(d *models.DispatchRecord) sq.InsertBuilder {
	return r.sql.Insert("dispatch_log").
		Columns("id", "request_id", "subject", "provider", "mode", "outcome", "error_kind",
			"upstream_status", "attempts", "image_count", "context_turns", "duration_ms").
		Values(d.ID, d.RequestID, d.Subject, d.Provider, d.Mode, d.Outcome, d.ErrorKind,
			d.UpstreamStatus, d.Attempts, d.ImageCount, d.ContextTurns, d.DurationMS).
		Suffix("RETURNING created_at")
}
