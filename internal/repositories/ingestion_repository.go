package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dayflow/internal/models"
)

var (
	ErrIngestionNotFound = errors.New("ingestion record not found")

	// ErrAlreadyResolved means the record reached a terminal outcome
	// before this resolve attempt; terminal outcomes are write-once.
	ErrAlreadyResolved = errors.New("ingestion record already resolved")
)

// IngestionRepository is the idempotency ledger for inbound chat messages.
// The unique constraint on (source_message_id, source_channel_id,
// workspace_id) is the concurrency guard: the INSERT attempt itself claims
// the key, there is no separate lock.
type IngestionRepository interface {
	// Claim atomically inserts a processing record for the key. When the
	// key already exists the existing record is returned with
	// claimed=false and no work may be repeated.
	Claim(ctx context.Context, key models.IngestionKey, ownerID int64) (claimed bool, rec *models.IngestionRecord, err error)

	// Resolve finalizes a claimed record. It only ever moves a record out
	// of processing; terminal outcomes are write-once.
	Resolve(ctx context.Context, id int64, outcome models.IngestionOutcome, taskID *int64) error

	// Release drops a processing claim so a redelivery can retry after an
	// internal failure. Terminal records are never released.
	Release(ctx context.Context, id int64) error

	SaveProposal(ctx context.Context, id int64, title string, minutes int, priority string) error
	FindByID(ctx context.Context, id int64) (*models.IngestionRecord, error)
	FindByKey(ctx context.Context, key models.IngestionKey) (*models.IngestionRecord, error)

	// PurgeOlderThan garbage-collects terminal records; retention is an
	// optimization, not a correctness requirement.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type ingestionRepository struct {
	db *sql.DB
}

func NewIngestionRepository(db *sql.DB) IngestionRepository {
	return &ingestionRepository{db: db}
}

const ingestionColumns = `id, source_message_id, source_channel_id, workspace_id, owner_id,
       outcome, task_id, proposed_title, proposed_minutes, proposed_priority,
       processed_at, created_at`

func (r *ingestionRepository) Claim(ctx context.Context, key models.IngestionKey, ownerID int64) (bool, *models.IngestionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO ingestion_records
			(source_message_id, source_channel_id, workspace_id, owner_id, outcome, created_at)
		VALUES ($1,$2,$3,$4,'processing',NOW())
		ON CONFLICT (source_message_id, source_channel_id, workspace_id) DO NOTHING
		RETURNING id, created_at`,
		key.SourceMessageID, key.SourceChannelID, key.WorkspaceID, ownerID)

	rec := &models.IngestionRecord{
		IngestionKey: key,
		OwnerID:      ownerID,
		Outcome:      models.IngestionProcessing,
	}
	err := row.Scan(&rec.ID, &rec.CreatedAt)
	if err == nil {
		return true, rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, nil, err
	}

	// Lost the race (or a redelivery): somebody already owns the key.
	existing, err := r.FindByKey(ctx, key)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *ingestionRepository) Resolve(ctx context.Context, id int64, outcome models.IngestionOutcome, taskID *int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ingestion_records
		SET outcome=$1, task_id=$2, processed_at=NOW()
		WHERE id=$3 AND outcome='processing'`,
		outcome, taskID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Zero rows is either a missing record or one already moved out
		// of processing by a concurrent resolve; tell the caller which.
		var current string
		err := r.db.QueryRowContext(ctx,
			`SELECT outcome FROM ingestion_records WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrIngestionNotFound
		}
		if err != nil {
			return err
		}
		return ErrAlreadyResolved
	}
	return nil
}

func (r *ingestionRepository) Release(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM ingestion_records WHERE id=$1 AND outcome='processing'`, id)
	return err
}

func (r *ingestionRepository) SaveProposal(ctx context.Context, id int64, title string, minutes int, priority string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ingestion_records
		SET proposed_title=$1, proposed_minutes=$2, proposed_priority=$3
		WHERE id=$4 AND outcome='processing'`,
		title, minutes, priority, id)
	return err
}

func (r *ingestionRepository) FindByID(ctx context.Context, id int64) (*models.IngestionRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ingestionColumns+` FROM ingestion_records WHERE id = $1`, id)
	return scanIngestion(row)
}

func (r *ingestionRepository) FindByKey(ctx context.Context, key models.IngestionKey) (*models.IngestionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+ingestionColumns+` FROM ingestion_records
		WHERE source_message_id = $1 AND source_channel_id = $2 AND workspace_id = $3`,
		key.SourceMessageID, key.SourceChannelID, key.WorkspaceID)
	return scanIngestion(row)
}

func (r *ingestionRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM ingestion_records
		WHERE outcome <> 'processing' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanIngestion(row rowScanner) (*models.IngestionRecord, error) {
	var rec models.IngestionRecord
	if err := row.Scan(
		&rec.ID, &rec.SourceMessageID, &rec.SourceChannelID, &rec.WorkspaceID, &rec.OwnerID,
		&rec.Outcome, &rec.TaskID, &rec.ProposedTitle, &rec.ProposedMinutes, &rec.ProposedPriority,
		&rec.ProcessedAt, &rec.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIngestionNotFound
		}
		return nil, err
	}
	return &rec, nil
}
