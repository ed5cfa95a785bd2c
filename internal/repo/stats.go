package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// SubmissionsStats returns how many final submissions a questionnaire has and
// when the newest one was submitted. Submissions are immutable, so the pair
// changes exactly when the listing does; the handler derives its ETag from
// it. latest is nil when there are none. Drafts are not counted.
func SubmissionsStats(ctx context.Context, db *gorm.DB, questionnaireID string) (total int64, latest *time.Time, err error) {
	if err = submissionsQuery(ctx, db, questionnaireID).Count(&total).Error; err != nil || total == 0 {
		return 0, nil, err
	}

	// ORDER BY instead of MAX(): SQLite returns MAX over a datetime column
	// as TEXT, which does not scan into time.Time.
	var newest struct{ SubmittedAt time.Time }
	err = submissionsQuery(ctx, db, questionnaireID).
		Select("submitted_at").
		Order("submitted_at desc").
		Limit(1).
		Scan(&newest).Error
	if err != nil {
		return 0, nil, err
	}
	return total, &newest.SubmittedAt, nil
}

// Ping reports whether the store answers; the health endpoint uses it.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
