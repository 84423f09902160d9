package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tradehook/hookgate/internal/ledger"
	"github.com/tradehook/hookgate/internal/model"
)

const deliveryColumns = `id, webhook_id, correlation_id, event_type, status, response_code, response_time_ms, attempt, payload, response_body, last_error, created_at`

type PostgresDeliveryRepo struct {
	db *sqlx.DB
}

func NewPostgresDeliveryRepo(db *sqlx.DB) *PostgresDeliveryRepo {
	repo := &PostgresDeliveryRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

// Insert appends one immutable attempt row.
func (r *PostgresDeliveryRepo) Insert(ctx context.Context, d *model.Delivery) error {
	if d == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deliveries (`+deliveryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO NOTHING
	`, d.ID, d.WebhookID, d.CorrelationID, d.EventType, string(d.Status), d.ResponseCode,
		d.ResponseTimeMs, d.Attempt, d.Payload, d.ResponseBody, d.LastError, d.CreatedAt)
	return err
}

func (r *PostgresDeliveryRepo) Get(ctx context.Context, id string) (*model.Delivery, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	return d, err
}

// List applies the ledger's filters, sort and pagination, returning the
// page plus the unpaginated match count.
func (r *PostgresDeliveryRepo) List(ctx context.Context, q model.DeliveryQuery) ([]*model.Delivery, int64, error) {
	clauses := []string{"webhook_id = $1"}
	args := []interface{}{q.WebhookID}
	idx := 2

	addClause := func(cond string, val interface{}) {
		clauses = append(clauses, fmt.Sprintf(cond, idx))
		args = append(args, val)
		idx++
	}

	if q.Status != "" {
		addClause("status = $%d", string(q.Status))
	}
	if q.CodeMin > 0 {
		addClause("response_code >= $%d", q.CodeMin)
	}
	if q.CodeMax > 0 {
		addClause("response_code <= $%d", q.CodeMax)
	}
	if q.TimeMinMs > 0 {
		addClause("response_time_ms >= $%d", q.TimeMinMs)
	}
	if q.TimeMaxMs > 0 {
		addClause("response_time_ms <= $%d", q.TimeMaxMs)
	}
	if q.Search != "" {
		clauses = append(clauses, fmt.Sprintf("(last_error ILIKE $%d OR response_body ILIKE $%d)", idx, idx))
		args = append(args, "%"+q.Search+"%")
		idx++
	}
	if q.From != nil {
		addClause("created_at >= $%d", *q.From)
	}
	if q.To != nil {
		addClause("created_at <= $%d", *q.To)
	}

	where := " WHERE " + strings.Join(clauses, " AND ")

	var total int64
	if err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM deliveries`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + deliveryColumns + ` FROM deliveries` + where +
		fmt.Sprintf(" ORDER BY %s %s LIMIT $%d OFFSET $%d", sortColumn(q.SortBy), sortDirection(q.SortDesc), idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := make([]*model.Delivery, 0, limit)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, d)
	}
	return records, total, rows.Err()
}

// ListWindow returns every attempt for one webhook inside [from, to),
// oldest first, for on-demand aggregation.
func (r *PostgresDeliveryRepo) ListWindow(ctx context.Context, webhookID string, from, to time.Time) ([]*model.Delivery, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT `+deliveryColumns+` FROM deliveries
		WHERE webhook_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC
	`, webhookID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, d)
	}
	return records, rows.Err()
}

// FailedChains returns the latest attempt of every correlation chain that
// has no successful attempt, i.e. the deliveries still pending manual action.
func (r *PostgresDeliveryRepo) FailedChains(ctx context.Context, webhookID string) ([]*model.Delivery, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT DISTINCT ON (correlation_id) `+deliveryColumns+`
		FROM deliveries d
		WHERE webhook_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM deliveries s
			WHERE s.correlation_id = d.correlation_id AND s.status = 'sent'
		  )
		ORDER BY correlation_id, attempt DESC
	`, webhookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, d)
	}
	return records, rows.Err()
}

func (r *PostgresDeliveryRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			status TEXT NOT NULL,
			response_code INTEGER NOT NULL DEFAULT 0,
			response_time_ms BIGINT NOT NULL DEFAULT 0,
			attempt INTEGER NOT NULL DEFAULT 1,
			payload TEXT,
			response_body TEXT,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON deliveries(webhook_id, created_at DESC)`)
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_deliveries_correlation ON deliveries(correlation_id, attempt DESC)`)
	return nil
}

func (r *PostgresDeliveryRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, `DELETE FROM deliveries WHERE created_at < $1`, cutoff)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDelivery(row rowScanner) (*model.Delivery, error) {
	var d model.Delivery
	var status string
	if err := row.Scan(
		&d.ID,
		&d.WebhookID,
		&d.CorrelationID,
		&d.EventType,
		&status,
		&d.ResponseCode,
		&d.ResponseTimeMs,
		&d.Attempt,
		&d.Payload,
		&d.ResponseBody,
		&d.LastError,
		&d.CreatedAt,
	); err != nil {
		return nil, err
	}
	d.Status = model.DeliveryStatus(status)
	return &d, nil
}

func sortColumn(raw string) string {
	switch raw {
	case "response_time_ms", "response_code", "attempt":
		return raw
	default:
		return "created_at"
	}
}

func sortDirection(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}
