package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClientWithOptions(context.Background(), "",
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	now := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now }, time.UTC)
	return c
}

func TestListUpcomingEvents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/calendars/primary/events"), r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "2024-03-04T08:00:00Z", q.Get("timeMin"))
		assert.Equal(t, "3", q.Get("maxResults"))
		assert.Equal(t, "startTime", q.Get("orderBy"))
		assert.Equal(t, "true", q.Get("singleEvents"))
		fmt.Fprint(w, `{"items":[
			{"summary":"Tandläkare","start":{"dateTime":"2024-03-04T09:30:00Z"},"end":{"dateTime":"2024-03-04T10:00:00Z"}},
			{"start":{"date":"2024-03-05"},"end":{"date":"2024-03-06"}}
		]}`)
	})

	text, err := c.ListUpcomingEvents(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Kommande händelser: Kl 2024-03-04 09:30: Tandläkare. Kl 2024-03-05: Inget namn.", text)
}

func TestEmptyCalendar(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[]}`)
	})

	text, err := c.ListUpcomingEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "Kalendern är tom.", text)
}

func TestCreateEvent(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"summary":"Padel","id":"abc"}`)
	})

	start := time.Date(2024, 3, 6, 18, 0, 0, 0, time.UTC)
	text, err := c.CreateEvent(context.Background(), "Padel", start, start)
	require.NoError(t, err)
	assert.Equal(t, `Bokade "Padel" 2024-03-06 18:00.`, text)
	assert.Equal(t, "Padel", got["summary"])
	assert.Equal(t, "2024-03-06T19:00:00Z", got["end"].(map[string]any)["dateTime"])

	_, err = c.CreateEvent(context.Background(), " ", start, start)
	assert.Error(t, err)
}

func TestUpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"forbidden"}}`)
	})

	_, err := c.ListUpcomingEvents(context.Background(), 5)
	assert.Error(t, err)
}

func TestPayload(t *testing.T) {
	p := Payload([]Event{{Summary: "Möte", Start: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}})
	assert.Equal(t, 1, p["antal"])
	items := p["händelser"].([]any)
	assert.Equal(t, "2024-03-04 09:00", items[0].(map[string]any)["start"])
}

func TestNewClientRequiresKeyFile(t *testing.T) {
	_, err := NewClient(context.Background(), "", "primary")
	assert.Error(t, err)
}
