package repository

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nibras-backend/internal/models"
)

func TestUsageRepo_InsertQuery(t *testing.T) {
	r := NewUsageRepo(nil)
	kind := "rate_limited"
	status := 429
	d := &models.DispatchRecord{
		ID:             uuid.New(),
		RequestID:      "req-1",
		Provider:       "gemini",
		Mode:           "learn",
		Outcome:        models.OutcomeUpstream,
		ErrorKind:      &kind,
		UpstreamStatus: &status,
		Attempts:       4,
	}

	query, args, err := r.insertQuery(d).ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO dispatch_log (id,request_id,subject,provider,mode,outcome,error_kind,upstream_status,attempts,image_count,context_turns,duration_ms) "+
			"VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING created_at",
		query)
	require.Len(t, args, 12)
	assert.Equal(t, d.ID, args[0])
	assert.Nil(t, args[2].(*string))
	assert.Equal(t, &kind, args[6])
	assert.Equal(t, 4, args[8])
}
