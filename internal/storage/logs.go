package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LogRepository persists email logs. It is a plain data access layer;
// state machine rules live in the tracker.
type LogRepository struct {
	pool *pgxpool.Pool
}

func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

const logColumns = `id, job_id, recipient, subject, COALESCE(body, ''), status, template_id,
	attachments, metadata, COALESCE(error, ''), sent_at, delivered_at, opened_at, clicked_at,
	system_id, created_at, updated_at`

func scanLog(row pgx.Row) (*EmailLog, error) {
	var l EmailLog
	err := row.Scan(&l.ID, &l.JobID, &l.Recipient, &l.Subject, &l.Body, &l.Status, &l.TemplateID,
		&l.Attachments, &l.Metadata, &l.Error, &l.SentAt, &l.DeliveredAt, &l.OpenedAt, &l.ClickedAt,
		&l.SystemID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &l, nil
}

// CreateLogParams carries the immutable snapshot recorded before any
// provider call.
type CreateLogParams struct {
	JobID       *int64
	Recipient   string
	Subject     string
	Body        string
	TemplateID  *uuid.UUID
	Attachments []AttachmentMeta
	Metadata    map[string]any
	SystemID    uuid.UUID
}

// Create inserts a new log in PENDING.
func (r *LogRepository) Create(ctx context.Context, p CreateLogParams) (*EmailLog, error) {
	attachments, err := marshalOrNil(p.Attachments, len(p.Attachments) == 0)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalOrNil(p.Metadata, len(p.Metadata) == 0)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO email_logs (job_id, recipient, subject, body, status, template_id, attachments, metadata, system_id)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
		 RETURNING `+logColumns,
		p.JobID, p.Recipient, p.Subject, p.Body, StatusPending, p.TemplateID, attachments, metadata, p.SystemID)
	return scanLog(row)
}

func (r *LogRepository) FindByID(ctx context.Context, id uuid.UUID) (*EmailLog, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+logColumns+` FROM email_logs WHERE id = $1`, id)
	return scanLog(row)
}

// FindByJobID returns the log created by a previous delivery attempt of
// the same queue job, if any. This is the idempotency lookup.
func (r *LogRepository) FindByJobID(ctx context.Context, jobID int64) (*EmailLog, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+logColumns+` FROM email_logs WHERE job_id = $1`, jobID)
	return scanLog(row)
}

// ListLogsFilter narrows List results. Zero values mean no filtering.
type ListLogsFilter struct {
	SystemID *uuid.UUID
	Status   *EmailStatus
	Limit    int
}

// List returns logs newest first.
func (r *LogRepository) List(ctx context.Context, f ListLogsFilter) ([]EmailLog, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+logColumns+` FROM email_logs
		 WHERE ($1::uuid IS NULL OR system_id = $1)
		   AND ($2::text IS NULL OR status = $2)
		 ORDER BY created_at DESC
		 LIMIT $3`,
		f.SystemID, f.Status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []EmailLog{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

// LogUpdate carries the mutable fields of a status update. Metadata is
// merged key-wise into the existing map; only non-nil timestamps are set.
type LogUpdate struct {
	Error       *string
	Metadata    map[string]any
	SentAt      *time.Time
	DeliveredAt *time.Time
	OpenedAt    *time.Time
	ClickedAt   *time.Time
}

// Update writes a status plus the provided fields. It performs no
// transition validation; callers go through the tracker for that.
func (r *LogRepository) Update(ctx context.Context, id uuid.UUID, status EmailStatus, u LogUpdate) (*EmailLog, error) {
	metadata, err := marshalOrNil(u.Metadata, len(u.Metadata) == 0)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx,
		`UPDATE email_logs SET
			status = $2,
			error = COALESCE($3, error),
			metadata = CASE WHEN $4::jsonb IS NULL THEN metadata
				ELSE COALESCE(metadata, '{}'::jsonb) || $4::jsonb END,
			sent_at = COALESCE($5, sent_at),
			delivered_at = COALESCE($6, delivered_at),
			opened_at = COALESCE($7, opened_at),
			clicked_at = COALESCE($8, clicked_at),
			updated_at = now()
		 WHERE id = $1
		 RETURNING `+logColumns,
		id, status, u.Error, metadata, u.SentAt, u.DeliveredAt, u.OpenedAt, u.ClickedAt)
	return scanLog(row)
}

// DeleteOlderThan removes logs created before cutoff and reports how many
// rows went away. Used by the retention task.
func (r *LogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM email_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountByStatus aggregates log counts per status across all tenants.
func (r *LogRepository) CountByStatus(ctx context.Context) (map[EmailStatus]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM email_logs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[EmailStatus]int64)
	for rows.Next() {
		var (
			status EmailStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// SystemEmailStats is the per-tenant aggregate view.
type SystemEmailStats struct {
	SystemID   uuid.UUID             `json:"id"`
	SystemName string                `json:"name"`
	ByStatus   map[EmailStatus]int64 `json:"email_stats"`
}

// CountBySystem aggregates log counts per tenant and status.
func (r *LogRepository) CountBySystem(ctx context.Context) ([]SystemEmailStats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.name, l.status, count(l.id)
		 FROM authorized_systems s
		 LEFT JOIN email_logs l ON l.system_id = s.id
		 GROUP BY s.id, s.name, l.status
		 ORDER BY s.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*SystemEmailStats)
	order := []uuid.UUID{}
	for rows.Next() {
		var (
			id     uuid.UUID
			name   string
			status *EmailStatus
			n      int64
		)
		if err := rows.Scan(&id, &name, &status, &n); err != nil {
			return nil, err
		}

		s, ok := byID[id]
		if !ok {
			s = &SystemEmailStats{SystemID: id, SystemName: name, ByStatus: map[EmailStatus]int64{}}
			byID[id] = s
			order = append(order, id)
		}
		if status != nil {
			s.ByStatus[*status] = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make([]SystemEmailStats, 0, len(order))
	for _, id := range order {
		stats = append(stats, *byID[id])
	}
	return stats, nil
}

// marshalOrNil returns nil for empty values so the column stays NULL.
func marshalOrNil(v any, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	return json.Marshal(v)
}
