package calendar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"dayflow/internal/scheduler"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// GoogleClient talks to the Google Calendar REST API for the user's primary
// calendar. Every response funnels through Classify before it reaches a
// caller.
type GoogleClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	log        *zap.Logger
}

type GoogleOption func(*GoogleClient)

// WithBaseURL points the client at a different API root (tests).
func WithBaseURL(url string) GoogleOption {
	return func(c *GoogleClient) { c.baseURL = url }
}

func WithHTTPClient(hc *http.Client) GoogleOption {
	return func(c *GoogleClient) { c.httpClient = hc }
}

func NewGoogleClient(tokens TokenSource, logger *zap.Logger, opts ...GoogleOption) *GoogleClient {
	c := &GoogleClient{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     tokens,
		log:        logger.Named("gcal"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *GoogleClient) CreateEvent(ctx context.Context, ownerID int64, ev Event) (string, error) {
	body, err := buildEventBody(ev)
	if err != nil {
		return "", err
	}
	resp, err := c.do(ctx, ownerID, http.MethodPost, "/calendars/primary/events", body)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(resp, "id").String()
	if id == "" {
		return "", &ProviderError{Kind: KindFatal, Message: "create response missing event id"}
	}
	c.log.Info("event created", zap.Int64("owner_id", ownerID), zap.String("event_id", id))
	return id, nil
}

func (c *GoogleClient) UpdateEvent(ctx context.Context, ownerID int64, ev Event) error {
	if ev.ID == "" {
		return &ProviderError{Kind: KindMalformedRequest, Message: "update requires an event id"}
	}
	body, err := buildEventBody(ev)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, ownerID, http.MethodPut, "/calendars/primary/events/"+ev.ID, body)
	return err
}

func (c *GoogleClient) DeleteEvent(ctx context.Context, ownerID int64, eventID string) error {
	_, err := c.do(ctx, ownerID, http.MethodDelete, "/calendars/primary/events/"+eventID, nil)
	if pe, ok := err.(*ProviderError); ok && (pe.Status == http.StatusNotFound || pe.Status == http.StatusGone) {
		// Already gone on the provider side; deletion is idempotent.
		return nil
	}
	return err
}

// ListBusyIntervals queries freeBusy. Calendars that errored inside an
// otherwise successful response are skipped: the slot search degrades to
// fewer known conflicts instead of failing outright.
func (c *GoogleClient) ListBusyIntervals(ctx context.Context, ownerID int64, window scheduler.Interval) ([]scheduler.Interval, error) {
	body := []byte(`{"items":[{"id":"primary"}]}`)
	body, _ = sjson.SetBytes(body, "timeMin", window.Start.UTC().Format(time.RFC3339))
	body, _ = sjson.SetBytes(body, "timeMax", window.End.UTC().Format(time.RFC3339))

	resp, err := c.do(ctx, ownerID, http.MethodPost, "/freeBusy", body)
	if err != nil {
		return nil, err
	}

	var busy []scheduler.Interval
	gjson.GetBytes(resp, "calendars").ForEach(func(calID, cal gjson.Result) bool {
		if errs := cal.Get("errors"); errs.Exists() && len(errs.Array()) > 0 {
			c.log.Warn("freebusy partial failure",
				zap.Int64("owner_id", ownerID),
				zap.String("calendar", calID.String()),
				zap.String("errors", errs.Raw))
		}
		cal.Get("busy").ForEach(func(_, block gjson.Result) bool {
			start, err1 := time.Parse(time.RFC3339, block.Get("start").String())
			end, err2 := time.Parse(time.RFC3339, block.Get("end").String())
			if err1 == nil && err2 == nil && end.After(start) {
				busy = append(busy, scheduler.Interval{Start: start, End: end})
			}
			return true
		})
		return true
	})
	return busy, nil
}

// buildEventBody serializes the event with explicit UTC offsets in the
// user's zone. Bare local-time strings are never sent; defaulting silently
// to UTC would shift the user's intended local time.
func buildEventBody(ev Event) ([]byte, error) {
	loc := time.UTC
	if ev.Timezone != "" {
		l, err := time.LoadLocation(ev.Timezone)
		if err != nil {
			return nil, &ProviderError{Kind: KindMalformedRequest, Message: fmt.Sprintf("unknown timezone %q", ev.Timezone)}
		}
		loc = l
	}

	b := []byte(`{}`)
	b, _ = sjson.SetBytes(b, "summary", ev.Summary)
	if ev.Description != "" {
		b, _ = sjson.SetBytes(b, "description", ev.Description)
	}
	b, _ = sjson.SetBytes(b, "start.dateTime", ev.Start.In(loc).Format(time.RFC3339))
	b, _ = sjson.SetBytes(b, "start.timeZone", loc.String())
	b, _ = sjson.SetBytes(b, "end.dateTime", ev.End.In(loc).Format(time.RFC3339))
	b, _ = sjson.SetBytes(b, "end.timeZone", loc.String())
	return b, nil
}

func (c *GoogleClient) do(ctx context.Context, ownerID int64, method, path string, body []byte) ([]byte, error) {
	token, err := c.tokens.AccessToken(ctx, ownerID)
	if err != nil {
		// No usable token stored is the same situation as a revoked one:
		// the user has to reconnect the calendar.
		return nil, &ProviderError{Kind: KindTokenExpired, Reason: "no_token", Message: err.Error()}
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &ProviderError{Kind: KindFatal, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Classify(0, nil, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		pe := Classify(resp.StatusCode, respBody, nil)
		c.log.Warn("calendar call failed",
			zap.Int64("owner_id", ownerID),
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", pe.Kind.String()),
			zap.String("reason", pe.Reason))
		return nil, pe
	}
	return respBody, nil
}

var _ Gateway = (*GoogleClient)(nil)
