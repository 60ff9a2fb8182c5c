package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/filevault-api/internal/models"
)

// UsageRepository reads the per-day and per-type usage tables.
type UsageRepository struct {
	db *sqlx.DB
}

// NewUsageRepository constructs a UsageRepository.
func NewUsageRepository(db *sqlx.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Daily returns the bucket for day; a missing bucket is returned zeroed.
func (r *UsageRepository) Daily(ctx context.Context, userID string, day time.Time) (models.DailyUsage, error) {
	const query = `SELECT user_id, day, upload_size, upload_count, download_size, download_count FROM daily_usage WHERE user_id = $1 AND day = $2`
	usage := models.DailyUsage{UserID: userID, Day: models.Day(day)}
	if err := r.db.GetContext(ctx, &usage, query, userID, models.Day(day)); err != nil {
		if err == sql.ErrNoRows {
			return usage, nil
		}
		return usage, fmt.Errorf("daily usage: %w", err)
	}
	return usage, nil
}

// History returns the retained daily buckets, newest first.
func (r *UsageRepository) History(ctx context.Context, userID string) ([]models.DailyUsage, error) {
	const query = `SELECT user_id, day, upload_size, upload_count, download_size, download_count FROM daily_usage WHERE user_id = $1 ORDER BY day DESC LIMIT $2`
	var buckets []models.DailyUsage
	if err := r.db.SelectContext(ctx, &buckets, query, userID, models.DailyUsageRetention); err != nil {
		return nil, fmt.Errorf("usage history: %w", err)
	}
	return buckets, nil
}

// ByType returns the per-category breakdown of a user.
func (r *UsageRepository) ByType(ctx context.Context, userID string) ([]models.TypeUsage, error) {
	const query = `SELECT user_id, category, file_count, total_size FROM type_usage WHERE user_id = $1`
	var rows []models.TypeUsage
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("type usage: %w", err)
	}
	return rows, nil
}

// RecordDownload adds size to the day's download bucket.
func (r *UsageRepository) RecordDownload(ctx context.Context, userID string, at time.Time, size int64) error {
	day := models.Day(at)
	const query = `INSERT INTO daily_usage (user_id, day, download_size, download_count) VALUES ($1, $2, $3, 1)
ON CONFLICT (user_id, day) DO UPDATE SET download_size = daily_usage.download_size + EXCLUDED.download_size, download_count = daily_usage.download_count + 1`
	if _, err := r.db.ExecContext(ctx, query, userID, day, size); err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, pruneDailyUsageQuery, userID, retentionCutoff(day)); err != nil {
		return fmt.Errorf("prune daily usage: %w", err)
	}
	return nil
}

const pruneDailyUsageQuery = `DELETE FROM daily_usage WHERE user_id = $1 AND day < $2`

// retentionCutoff is the oldest day kept when day is the newest bucket.
func retentionCutoff(day time.Time) time.Time {
	return day.AddDate(0, 0, -(models.DailyUsageRetention - 1))
}
