package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dayflow/internal/models"
)

var (
	ErrTaskNotFound = errors.New("task not found")

	// ErrSlotConflict means another request reserved an overlapping
	// interval between the slot search and the reservation write.
	ErrSlotConflict = errors.New("slot already reserved")
)

type TaskRepository interface {
	Store(ctx context.Context, task *models.Task) error
	FindByID(ctx context.Context, id int64) (*models.Task, error)
	FindAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	FindScheduledInRange(ctx context.Context, ownerID int64, from, to time.Time) ([]models.Task, error)
	FindUnsynced(ctx context.Context, ownerID int64) ([]models.Task, error)
	ListOwnersWithUnsynced(ctx context.Context) ([]int64, error)
	Update(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, id int64) error

	// ReserveSlot commits the interval under the per-owner critical
	// section: re-checks overlap against already-reserved tasks inside
	// the lock before writing.
	ReserveSlot(ctx context.Context, id, ownerID int64, start, end time.Time) error
	SetCalendarEvent(ctx context.Context, id int64, eventID string) error
	ClearCalendarEvent(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64) error
}

type taskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) TaskRepository {
	return &taskRepository{db: db}
}

const taskColumns = `id, owner_id, title, description, required_minutes, priority,
       due_date, due_time, scheduled_start, scheduled_end, calendar_event_id,
       source_message_id, source_channel_id, completed, created_at, updated_at`

func (r *taskRepository) Store(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (
			owner_id, title, description, required_minutes, priority,
			due_date, due_time, source_message_id, source_channel_id,
			completed, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW())
		RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		task.OwnerID, task.Title, task.Description,
		int(task.RequiredDuration/time.Minute), task.Priority,
		task.DueDate, task.DueTime, task.SourceMessageID, task.SourceChannelID,
		task.Completed,
	).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
}

func (r *taskRepository) FindByID(ctx context.Context, id int64) (*models.Task, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func (r *taskRepository) FindAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	baseQuery := `SELECT ` + taskColumns + ` FROM tasks`

	conditions := []string{}
	args := []interface{}{}
	argID := 1

	if filter.OwnerID != nil {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argID))
		args = append(args, *filter.OwnerID)
		argID++
	}
	if filter.Completed != nil {
		conditions = append(conditions, fmt.Sprintf("completed = $%d", argID))
		args = append(args, *filter.Completed)
		argID++
	}
	if filter.Unscheduled {
		conditions = append(conditions, "scheduled_start IS NULL")
	}
	if filter.Unsynced {
		conditions = append(conditions, "scheduled_start IS NOT NULL AND calendar_event_id IS NULL")
	}

	if len(conditions) > 0 {
		baseQuery += " WHERE " + strings.Join(conditions, " AND ")
	}
	baseQuery += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, baseQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *taskRepository) FindScheduledInRange(ctx context.Context, ownerID int64, from, to time.Time) ([]models.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE owner_id = $1
		  AND completed = FALSE
		  AND scheduled_start IS NOT NULL
		  AND scheduled_start < $3
		  AND scheduled_end > $2
		ORDER BY scheduled_start ASC`,
		ownerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *taskRepository) FindUnsynced(ctx context.Context, ownerID int64) ([]models.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE owner_id = $1
		  AND completed = FALSE
		  AND scheduled_start IS NOT NULL
		  AND calendar_event_id IS NULL
		ORDER BY scheduled_start ASC`,
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *taskRepository) ListOwnersWithUnsynced(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT owner_id FROM tasks
		WHERE completed = FALSE
		  AND scheduled_start IS NOT NULL
		  AND calendar_event_id IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

func (r *taskRepository) Update(ctx context.Context, task *models.Task) error {
	query := `
		UPDATE tasks SET
			title=$1, description=$2, required_minutes=$3, priority=$4,
			due_date=$5, due_time=$6, updated_at=NOW()
		WHERE id=$7`
	_, err := r.db.ExecContext(ctx, query,
		task.Title, task.Description, int(task.RequiredDuration/time.Minute),
		task.Priority, task.DueDate, task.DueTime, task.ID,
	)
	return err
}

func (r *taskRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	return err
}

func (r *taskRepository) ReserveSlot(ctx context.Context, id, ownerID int64, start, end time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Serialize reservations per owner. Slot search runs unlocked; only
	// the commit of an interval is a critical section.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ownerID); err != nil {
		return err
	}

	var conflicts int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE owner_id = $1
		  AND id <> $2
		  AND completed = FALSE
		  AND scheduled_start IS NOT NULL
		  AND scheduled_start < $4
		  AND scheduled_end > $3`,
		ownerID, id, start, end).Scan(&conflicts)
	if err != nil {
		return err
	}
	if conflicts > 0 {
		return ErrSlotConflict
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET scheduled_start=$1, scheduled_end=$2, updated_at=NOW()
		WHERE id=$3`, start, end, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return tx.Commit()
}

func (r *taskRepository) SetCalendarEvent(ctx context.Context, id int64, eventID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET calendar_event_id=$1, updated_at=NOW() WHERE id=$2`, eventID, id)
	return err
}

func (r *taskRepository) ClearCalendarEvent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET calendar_event_id=NULL, updated_at=NOW() WHERE id=$1`, id)
	return err
}

func (r *taskRepository) MarkCompleted(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET completed=TRUE, updated_at=NOW() WHERE id=$1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var minutes int
	if err := row.Scan(
		&t.ID, &t.OwnerID, &t.Title, &t.Description, &minutes, &t.Priority,
		&t.DueDate, &t.DueTime, &t.ScheduledStart, &t.ScheduledEnd, &t.CalendarEventID,
		&t.SourceMessageID, &t.SourceChannelID, &t.Completed, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.RequiredDuration = time.Duration(minutes) * time.Minute
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]models.Task, error) {
	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}
