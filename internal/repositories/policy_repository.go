package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"dayflow/internal/models"
)

var ErrPolicyNotFound = errors.New("working hours policy not found")

type PolicyRepository interface {
	FindByOwner(ctx context.Context, ownerID int64) (*models.WorkingHoursPolicy, error)
	Upsert(ctx context.Context, policy *models.WorkingHoursPolicy) error
}

type policyRepository struct {
	db *sql.DB
}

func NewPolicyRepository(db *sql.DB) PolicyRepository {
	return &policyRepository{db: db}
}

func (r *policyRepository) FindByOwner(ctx context.Context, ownerID int64) (*models.WorkingHoursPolicy, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, active_days, start_minute, end_minute,
		       break_start_minute, break_end_minute, granularity_minutes, timezone,
		       created_at, updated_at
		FROM working_hours WHERE owner_id = $1`, ownerID)

	var p models.WorkingHoursPolicy
	var days pq.Int64Array
	var granularityMin int
	err := row.Scan(
		&p.ID, &p.OwnerID, &days, &p.StartMinute, &p.EndMinute,
		&p.BreakStartMinute, &p.BreakEndMinute, &granularityMin, &p.Timezone,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	for _, d := range days {
		p.ActiveDays = append(p.ActiveDays, time.Weekday(d))
	}
	p.Granularity = time.Duration(granularityMin) * time.Minute
	return &p, nil
}

func (r *policyRepository) Upsert(ctx context.Context, policy *models.WorkingHoursPolicy) error {
	days := make(pq.Int64Array, 0, len(policy.ActiveDays))
	for _, d := range policy.ActiveDays {
		days = append(days, int64(d))
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO working_hours
			(owner_id, active_days, start_minute, end_minute,
			 break_start_minute, break_end_minute, granularity_minutes, timezone,
			 created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW())
		ON CONFLICT (owner_id) DO UPDATE SET
			active_days=EXCLUDED.active_days,
			start_minute=EXCLUDED.start_minute,
			end_minute=EXCLUDED.end_minute,
			break_start_minute=EXCLUDED.break_start_minute,
			break_end_minute=EXCLUDED.break_end_minute,
			granularity_minutes=EXCLUDED.granularity_minutes,
			timezone=EXCLUDED.timezone,
			updated_at=NOW()
		RETURNING id, created_at, updated_at`,
		policy.OwnerID, days, policy.StartMinute, policy.EndMinute,
		policy.BreakStartMinute, policy.BreakEndMinute,
		int(policy.Step()/time.Minute), policy.Timezone,
	).Scan(&policy.ID, &policy.CreatedAt, &policy.UpdatedAt)
}
