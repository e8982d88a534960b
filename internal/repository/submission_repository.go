package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Raymond9734/congregation-console/internal/models"
)

// SubmissionRepository defines the interface for submission ledger data access
type SubmissionRepository interface {
	Record(ctx context.Context, event *models.SubmissionEvent) (bool, error)
	GetByEventID(ctx context.Context, eventID string) (*models.LedgerEntry, error)
	List(ctx context.Context, filter models.LedgerFilter) ([]*models.LedgerEntry, int64, error)
}

// submissionRepository implements SubmissionRepository using PostgreSQL
type submissionRepository struct {
	db *sql.DB
}

// NewSubmissionRepository creates a new submission repository
func NewSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

// Record inserts an event. A redelivered event is ignored and reports false.
func (r *submissionRepository) Record(ctx context.Context, event *models.SubmissionEvent) (bool, error) {
	query := `
		INSERT INTO submission_ledger
			(event_id, session_id, campaign_id, campaign_name, kind, state, error, scheduled_at, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING`

	result, err := r.db.ExecContext(
		ctx,
		query,
		event.ID,
		event.SessionID,
		event.CampaignID,
		event.CampaignName,
		string(event.Kind),
		string(event.State),
		event.Error,
		event.ScheduledAt,
		event.OccurredAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record submission: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

const ledgerColumns = `id, event_id, session_id, campaign_id, campaign_name, kind, state, error, scheduled_at, occurred_at, recorded_at`

// GetByEventID retrieves a ledger entry by its event id
func (r *submissionRepository) GetByEventID(ctx context.Context, eventID string) (*models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM submission_ledger WHERE event_id = $1`

	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, eventID))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("submission %s not found", eventID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	return entry, nil
}

// List retrieves ledger entries, newest first
func (r *submissionRepository) List(ctx context.Context, filter models.LedgerFilter) ([]*models.LedgerEntry, int64, error) {
	models.ValidateAndSetDefaults(&filter.Page, &filter.PageSize)

	query := `SELECT ` + ledgerColumns + ` FROM submission_ledger WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM submission_ledger WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if filter.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argPos)
		countQuery += fmt.Sprintf(" AND state = $%d", argPos)
		args = append(args, filter.State)
		argPos++
	}

	var totalCount int64
	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count submissions: %w", err)
	}

	offset := models.CalculateOffset(filter.Page, filter.PageSize)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, filter.PageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	entries := []*models.LedgerEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan submission: %w", err)
		}
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating submissions: %w", err)
	}

	return entries, totalCount, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	var (
		entry       models.LedgerEntry
		kind, state string
		scheduledAt sql.NullTime
	)
	err := row.Scan(
		&entry.ID,
		&entry.Event.ID,
		&entry.Event.SessionID,
		&entry.Event.CampaignID,
		&entry.Event.CampaignName,
		&kind,
		&state,
		&entry.Event.Error,
		&scheduledAt,
		&entry.Event.OccurredAt,
		&entry.RecordedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Event.Kind = models.SubmissionKind(kind)
	entry.Event.State = models.SubmissionState(state)
	if scheduledAt.Valid {
		at := scheduledAt.Time
		entry.Event.ScheduledAt = &at
	}
	return &entry, nil
}
