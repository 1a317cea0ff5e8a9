// Package calendar abstracts the external calendar provider. All provider
// quirks are confined here: the rest of the service only ever sees the
// Gateway interface and the closed set of error kinds.
package calendar

import (
	"context"
	"time"

	"dayflow/internal/scheduler"
)

// Event is the provider-neutral shape of a calendar event. Start/End carry
// an explicit zone; Timezone names the IANA zone the user expects the event
// rendered in.
type Event struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Timezone    string
}

// Minimized strips everything optional, keeping only the fields the booking
// itself needs. Used for the one retry after a MalformedRequest.
func (e Event) Minimized() Event {
	return Event{
		ID:       e.ID,
		Summary:  e.Summary,
		Start:    e.Start,
		End:      e.End,
		Timezone: e.Timezone,
	}
}

type Gateway interface {
	CreateEvent(ctx context.Context, ownerID int64, ev Event) (string, error)
	UpdateEvent(ctx context.Context, ownerID int64, ev Event) error
	DeleteEvent(ctx context.Context, ownerID int64, eventID string) error

	// ListBusyIntervals feeds the committed-interval view of the slot
	// search. Partial provider outages degrade to fewer known conflicts:
	// whatever was fetched is returned rather than failing the attempt.
	ListBusyIntervals(ctx context.Context, ownerID int64, window scheduler.Interval) ([]scheduler.Interval, error)
}

// TokenSource supplies the per-user access token. Token issuance and
// refresh are owned by the external auth collaborator; the gateway only
// consumes whatever is currently stored.
type TokenSource interface {
	AccessToken(ctx context.Context, ownerID int64) (string, error)
}
