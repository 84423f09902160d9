package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tradehook/hookgate/internal/model"
)

type PostgresAuditRepo struct {
	db *sqlx.DB
}

func NewPostgresAuditRepo(db *sqlx.DB) *PostgresAuditRepo {
	repo := &PostgresAuditRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresAuditRepo) Insert(ctx context.Context, event *model.GuardrailEvent) error {
	if event == nil {
		return nil
	}
	detailJSON, _ := json.Marshal(event.Detail)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO guardrail_events (id, bot_instance_id, type, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.BotInstanceID, string(event.Type), detailJSON, event.CreatedAt)
	return err
}

func (r *PostgresAuditRepo) List(ctx context.Context, botInstanceID string, limit int, from, to *time.Time) ([]*model.GuardrailEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, bot_instance_id, type, detail, created_at FROM guardrail_events`
	clauses := []string{}
	args := []interface{}{}
	idx := 1

	if botInstanceID != "" {
		clauses = append(clauses, fmt.Sprintf("bot_instance_id = $%d", idx))
		args = append(args, botInstanceID)
		idx++
	}
	if from != nil {
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", idx))
		args = append(args, *from)
		idx++
	}
	if to != nil {
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", idx))
		args = append(args, *to)
		idx++
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*model.GuardrailEvent, 0, limit)
	for rows.Next() {
		var event model.GuardrailEvent
		var typ string
		var detailJSON []byte
		if err := rows.Scan(&event.ID, &event.BotInstanceID, &typ, &detailJSON, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Type = model.GuardrailEventType(typ)
		if len(detailJSON) > 0 {
			_ = json.Unmarshal(detailJSON, &event.Detail)
		} else {
			event.Detail = map[string]interface{}{}
		}
		records = append(records, &event)
	}
	return records, rows.Err()
}

func (r *PostgresAuditRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS guardrail_events (
			id TEXT PRIMARY KEY,
			bot_instance_id TEXT NOT NULL,
			type TEXT NOT NULL,
			detail JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_guardrail_events_bot ON guardrail_events(bot_instance_id, created_at DESC)`)
	return nil
}

func (r *PostgresAuditRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, `DELETE FROM guardrail_events WHERE created_at < $1`, cutoff)
	return err
}
