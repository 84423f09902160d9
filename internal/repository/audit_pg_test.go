package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradehook/hookgate/internal/model"
)

func TestPostgresAuditRepoInsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &PostgresAuditRepo{db: db}

	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO guardrail_events").
		WithArgs("e1", "bot-1", "signature_fail", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), &model.GuardrailEvent{
		ID:            "e1",
		BotInstanceID: "bot-1",
		Type:          model.EventSignatureFail,
		Detail:        map[string]interface{}{"error": "unknown bot instance"},
		CreatedAt:     now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditRepoListByBot(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &PostgresAuditRepo{db: db}
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM guardrail_events").
		WithArgs("bot-1", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "bot_instance_id", "type", "detail", "created_at"}).
			AddRow("e2", "bot-1", "loss_cap", []byte(`{"cap":100}`), now))

	records, err := repo.List(context.Background(), "bot-1", 100, nil, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.EventLossCap, records[0].Type)
	assert.Equal(t, float64(100), records[0].Detail["cap"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
