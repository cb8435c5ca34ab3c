// Package fitness reads training activities from Strava and daily health
// metrics from Withings.
package fitness

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"daa-assistant/backend/internal/integrations/httpclient"

	"golang.org/x/oauth2"
)

// ErrNotConfigured is returned by clients without credentials.
var ErrNotConfigured = errors.New("fitness integration is not configured")

// Activity is one recorded workout.
type Activity struct {
	Type          string
	Date          string
	DistanceKm    float64
	MovingMinutes float64
	SufferScore   *float64
}

// StravaClient uses a long-lived refresh token to read recent activities.
type StravaClient struct {
	baseURL string
	http    *http.Client
}

func NewStravaClient(baseURL, clientID, clientSecret, refreshToken string, base *httpclient.Client) *StravaClient {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &StravaClient{baseURL: baseURL}
	if clientID == "" || refreshToken == "" {
		return c
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  baseURL + "/api/v3/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	// token refreshes go through the same rate-limited client
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base.HTTPClient())
	c.http = oauth2.NewClient(ctx, conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}))
	return c
}

func (c *StravaClient) Configured() bool {
	return c != nil && c.http != nil
}

type stravaActivity struct {
	Type           string   `json:"type"`
	SportType      string   `json:"sport_type"`
	StartDateLocal string   `json:"start_date_local"`
	Distance       float64  `json:"distance"`
	MovingTime     float64  `json:"moving_time"`
	SufferScore    *float64 `json:"suffer_score"`
}

// RecentActivities returns the latest limit activities, newest first.
func (c *StravaClient) RecentActivities(ctx context.Context, limit int) ([]Activity, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = 3
	}

	endpoint := fmt.Sprintf("%s/api/v3/athlete/activities?per_page=%d", c.baseURL, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	var raw []stravaActivity
	if err := doJSON(c.http, req, &raw); err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}

	out := make([]Activity, 0, len(raw))
	for _, a := range raw {
		typ := a.Type
		if typ == "" {
			typ = a.SportType
		}
		date := a.StartDateLocal
		if len(date) > 10 {
			date = date[:10]
		}
		out = append(out, Activity{
			Type:          typ,
			Date:          date,
			DistanceKm:    math.Round(a.Distance/100) / 10,
			MovingMinutes: math.Round(a.MovingTime / 60),
			SufferScore:   a.SufferScore,
		})
	}
	return out, nil
}

// ActivityPayload is the enrichment form of a list of activities.
func ActivityPayload(activities []Activity) map[string]any {
	items := make([]any, 0, len(activities))
	for _, a := range activities {
		item := map[string]any{
			"typ":        a.Type,
			"datum":      a.Date,
			"distans_km": a.DistanceKm,
			"tid_min":    a.MovingMinutes,
		}
		if a.SufferScore != nil {
			item["ansträngning"] = *a.SufferScore
		} else {
			item["ansträngning"] = "Ej angivet"
		}
		items = append(items, item)
	}
	return map[string]any{"pass": items}
}
