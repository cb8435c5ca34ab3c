package fitness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"daa-assistant/backend/internal/integrations/httpclient"

	"golang.org/x/oauth2"
)

// WithingsClient reads daily activity, sleep and weight.
type WithingsClient struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

func NewWithingsClient(baseURL, clientID, clientSecret, refreshToken string, base *httpclient.Client) *WithingsClient {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &WithingsClient{baseURL: baseURL, now: time.Now}
	if clientID == "" || refreshToken == "" {
		return c
	}
	src := &withingsTokenSource{
		endpoint:     baseURL + "/v2/oauth2",
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		http:         base.HTTPClient(),
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base.HTTPClient())
	c.http = oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, src))
	return c
}

func (c *WithingsClient) Configured() bool {
	return c != nil && c.http != nil
}

// SetClock overrides time.Now.
func (c *WithingsClient) SetClock(now func() time.Time) {
	c.now = now
}

// withingsTokenSource refreshes tokens through the Withings envelope
// format, which the standard oauth2 exchange cannot parse.
type withingsTokenSource struct {
	endpoint     string
	clientID     string
	clientSecret string
	http         *http.Client

	mu           sync.Mutex
	refreshToken string
}

func (s *withingsTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	form := url.Values{
		"action":        {"requesttoken"},
		"grant_type":    {"refresh_token"},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
		"refresh_token": {s.refreshToken},
	}
	req, err := http.NewRequest(http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := doWithings(s.http, req, &body); err != nil {
		return nil, fmt.Errorf("withings token refresh: %w", err)
	}
	if body.RefreshToken != "" {
		s.refreshToken = body.RefreshToken
	}
	return &oauth2.Token{
		AccessToken:  body.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: s.refreshToken,
		Expiry:       time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}

// GetDailySummary collects today's activity, last night's sleep and the
// latest weight. Parts that fail are left out.
func (c *WithingsClient) GetDailySummary(ctx context.Context) (map[string]any, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	now := c.now()
	today := now.Format(time.DateOnly)
	yesterday := now.AddDate(0, 0, -1).Format(time.DateOnly)

	summary := map[string]any{"datum": today}
	var errs []error

	var activity struct {
		Activities []struct {
			Date      string  `json:"date"`
			Steps     float64 `json:"steps"`
			Distance  float64 `json:"distance"`
			Calories  float64 `json:"calories"`
			HRAverage float64 `json:"hr_average"`
		} `json:"activities"`
	}
	if err := c.call(ctx, "/v2/measure", url.Values{
		"action":       {"getactivity"},
		"startdateymd": {yesterday},
		"enddateymd":   {today},
	}, &activity); err != nil {
		errs = append(errs, err)
	} else if n := len(activity.Activities); n > 0 {
		last := activity.Activities[n-1]
		summary["steg"] = last.Steps
		summary["distans_km"] = math.Round(last.Distance/100) / 10
		summary["kalorier"] = math.Round(last.Calories)
		if last.HRAverage > 0 {
			summary["puls_snitt"] = last.HRAverage
		}
	}

	var sleep struct {
		Series []struct {
			Date string `json:"date"`
			Data struct {
				TotalSleepTime float64 `json:"total_sleep_time"`
				HRAverage      float64 `json:"hr_average"`
				SleepScore     float64 `json:"sleep_score"`
			} `json:"data"`
		} `json:"series"`
	}
	if err := c.call(ctx, "/v2/sleep", url.Values{
		"action":       {"getsummary"},
		"startdateymd": {yesterday},
		"enddateymd":   {today},
		"data_fields":  {"total_sleep_time,hr_average,sleep_score"},
	}, &sleep); err != nil {
		errs = append(errs, err)
	} else if n := len(sleep.Series); n > 0 {
		last := sleep.Series[n-1].Data
		summary["sömn_timmar"] = math.Round(last.TotalSleepTime/360) / 10
		if last.SleepScore > 0 {
			summary["sömnpoäng"] = last.SleepScore
		}
		if last.HRAverage > 0 {
			summary["vilopuls"] = last.HRAverage
		}
	}

	var meas struct {
		MeasureGroups []struct {
			Date     int64 `json:"date"`
			Measures []struct {
				Value int64 `json:"value"`
				Type  int   `json:"type"`
				Unit  int   `json:"unit"`
			} `json:"measures"`
		} `json:"measuregrps"`
	}
	if err := c.call(ctx, "/measure", url.Values{
		"action":     {"getmeas"},
		"meastype":   {"1"},
		"category":   {"1"},
		"lastupdate": {fmt.Sprint(now.AddDate(0, 0, -30).Unix())},
	}, &meas); err != nil {
		errs = append(errs, err)
	} else {
		var latest int64
		for _, g := range meas.MeasureGroups {
			for _, m := range g.Measures {
				if m.Type == 1 && g.Date >= latest {
					latest = g.Date
					summary["vikt_kg"] = math.Round(float64(m.Value)*math.Pow10(m.Unit)*10) / 10
				}
			}
		}
	}

	if len(errs) == 3 {
		return nil, errors.Join(errs...)
	}
	return summary, nil
}

func (c *WithingsClient) call(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := doWithings(c.http, req, out); err != nil {
		return fmt.Errorf("withings %s %s: %w", path, form.Get("action"), err)
	}
	return nil
}

// doWithings unwraps the {"status": 0, "body": {...}} envelope.
func doWithings(client *http.Client, req *http.Request, out any) error {
	var envelope struct {
		Status int             `json:"status"`
		Error  string          `json:"error"`
		Body   json.RawMessage `json:"body"`
	}
	if err := doJSON(client, req, &envelope); err != nil {
		return err
	}
	if envelope.Status != 0 {
		if envelope.Error != "" {
			return fmt.Errorf("status %d: %s", envelope.Status, envelope.Error)
		}
		return fmt.Errorf("status %d", envelope.Status)
	}
	if out == nil || len(envelope.Body) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Body, out)
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &httpclient.StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
