package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

type PostgresLossRepo struct {
	db *sqlx.DB
}

func NewPostgresLossRepo(db *sqlx.DB) *PostgresLossRepo {
	repo := &PostgresLossRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

// GetDailyLoss 获取当日已累计的实际亏损
func (r *PostgresLossRepo) GetDailyLoss(ctx context.Context, botInstanceID string) (float64, error) {
	today := time.Now().UTC().Format("2006-01-02")
	var loss float64
	query := `SELECT loss FROM bot_daily_loss WHERE bot_instance_id = $1 AND date = $2`

	err := r.db.QueryRowxContext(ctx, query, botInstanceID, today).Scan(&loss)
	if errors.Is(err, sql.ErrNoRows) {
		// 没有记录即为 0；其他错误必须上抛，绝不能当作新窗口
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return loss, nil
}

// AddDailyLoss 原子累加当日亏损
func (r *PostgresLossRepo) AddDailyLoss(ctx context.Context, botInstanceID string, loss float64) error {
	today := time.Now().UTC().Format("2006-01-02")

	query := `
		INSERT INTO bot_daily_loss (bot_instance_id, date, loss)
		VALUES ($1, $2, $3)
		ON CONFLICT (bot_instance_id, date)
		DO UPDATE SET loss = bot_daily_loss.loss + $3
	`

	_, err := r.db.ExecContext(ctx, query, botInstanceID, today, loss)
	return err
}

func (r *PostgresLossRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bot_daily_loss (
			bot_instance_id TEXT NOT NULL,
			date DATE NOT NULL,
			loss DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (bot_instance_id, date)
		)
	`)
	return err
}

func (r *PostgresLossRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, `DELETE FROM bot_daily_loss WHERE date < $1`, cutoff.Format("2006-01-02"))
	return err
}
