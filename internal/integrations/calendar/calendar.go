// Package calendar reads and books events in Google Calendar using a
// service account.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Event is an upcoming calendar entry.
type Event struct {
	Summary string
	Start   time.Time
	End     time.Time
	AllDay  bool
}

type Client struct {
	svc        *gcal.Service
	calendarID string
	loc        *time.Location
	now        func() time.Time
}

// NewClient authenticates with the service account key file.
func NewClient(ctx context.Context, serviceAccountFile, calendarID string, opts ...option.ClientOption) (*Client, error) {
	if serviceAccountFile == "" {
		return nil, errors.New("calendar service account file is not set")
	}
	opts = append([]option.ClientOption{
		option.WithCredentialsFile(serviceAccountFile),
		option.WithScopes(gcal.CalendarEventsScope),
	}, opts...)
	return NewClientWithOptions(ctx, calendarID, opts...)
}

// NewClientWithOptions builds a client from raw client options.
func NewClientWithOptions(ctx context.Context, calendarID string, opts ...option.ClientOption) (*Client, error) {
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Client{svc: svc, calendarID: calendarID, loc: time.Local, now: time.Now}, nil
}

// SetClock overrides time.Now and the display zone.
func (c *Client) SetClock(now func() time.Time, loc *time.Location) {
	c.now = now
	if loc != nil {
		c.loc = loc
	}
}

// UpcomingEvents returns at most max events starting from now.
func (c *Client) UpcomingEvents(ctx context.Context, max int) ([]Event, error) {
	if max <= 0 {
		max = 5
	}
	res, err := c.svc.Events.List(c.calendarID).
		TimeMin(c.now().Format(time.RFC3339)).
		MaxResults(int64(max)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]Event, 0, len(res.Items))
	for _, item := range res.Items {
		ev := Event{Summary: item.Summary}
		if ev.Summary == "" {
			ev.Summary = "Inget namn"
		}
		ev.Start, ev.AllDay = parseEventTime(item.Start, c.loc)
		ev.End, _ = parseEventTime(item.End, c.loc)
		events = append(events, ev)
	}
	return events, nil
}

// ListUpcomingEvents renders upcoming events as one spoken line.
func (c *Client) ListUpcomingEvents(ctx context.Context, max int) (string, error) {
	events, err := c.UpcomingEvents(ctx, max)
	if err != nil {
		return "", err
	}
	return FormatEvents(events), nil
}

// CreateEvent books an event and returns a confirmation.
func (c *Client) CreateEvent(ctx context.Context, summary string, start, end time.Time) (string, error) {
	if strings.TrimSpace(summary) == "" {
		return "", errors.New("summary is required")
	}
	if !end.After(start) {
		end = start.Add(time.Hour)
	}
	created, err := c.svc.Events.Insert(c.calendarID, &gcal.Event{
		Summary: summary,
		Start:   &gcal.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:     &gcal.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}
	return fmt.Sprintf("Bokade %q %s.", created.Summary, start.In(c.loc).Format("2006-01-02 15:04")), nil
}

// Ping lists a single event to verify credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.UpcomingEvents(ctx, 1)
	return err
}

// FormatEvents renders events the way they are read aloud.
func FormatEvents(events []Event) string {
	if len(events) == 0 {
		return "Kalendern är tom."
	}
	var sb strings.Builder
	sb.WriteString("Kommande händelser:")
	for _, ev := range events {
		when := ev.Start.Format("2006-01-02 15:04")
		if ev.AllDay {
			when = ev.Start.Format(time.DateOnly)
		}
		fmt.Fprintf(&sb, " Kl %s: %s.", when, ev.Summary)
	}
	return sb.String()
}

// Payload is the enrichment form of a list of events.
func Payload(events []Event) map[string]any {
	items := make([]any, 0, len(events))
	for _, ev := range events {
		item := map[string]any{"titel": ev.Summary, "start": ev.Start.Format("2006-01-02 15:04")}
		if ev.AllDay {
			item["start"] = ev.Start.Format(time.DateOnly)
			item["heldag"] = true
		}
		items = append(items, item)
	}
	return map[string]any{"händelser": items, "antal": len(events)}
}

func parseEventTime(t *gcal.EventDateTime, loc *time.Location) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	if t.DateTime != "" {
		if parsed, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return parsed.In(loc), false
		}
	}
	if t.Date != "" {
		if parsed, err := time.ParseInLocation(time.DateOnly, t.Date, loc); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
