// Package weather fetches point forecasts from SMHI open data.
package weather

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"daa-assistant/backend/internal/integrations/httpclient"
	"daa-assistant/backend/pkg/speech"
)

const forecastDays = 5

var symbolNames = map[int]string{
	1: "klart", 2: "mestadels klart", 3: "varierande molnighet", 4: "halvklart",
	5: "molnigt", 6: "mulet", 7: "dimma", 8: "lätta regnskurar", 9: "regnskurar",
	10: "kraftiga regnskurar", 11: "åska", 12: "lätta byar av snöblandat regn",
	13: "byar av snöblandat regn", 14: "kraftiga byar av snöblandat regn",
	15: "lätta snöbyar", 16: "snöbyar", 17: "kraftiga snöbyar", 18: "lätt regn",
	19: "regn", 20: "kraftigt regn", 21: "åska", 22: "lätt snöblandat regn",
	23: "snöblandat regn", 24: "kraftigt snöblandat regn", 25: "lätt snöfall",
	26: "snöfall", 27: "kraftigt snöfall",
}

var weekdays = [...]string{"söndag", "måndag", "tisdag", "onsdag", "torsdag", "fredag", "lördag"}

// Describe maps an SMHI Wsymb2 code to Swedish words.
func Describe(symbol int) string {
	if s, ok := symbolNames[symbol]; ok {
		return s
	}
	return "växlande molnighet"
}

// Conditions is one forecast point.
type Conditions struct {
	Time        time.Time
	Temperature float64
	Symbol      int
}

func (c Conditions) Description() string {
	return Describe(c.Symbol)
}

// Forecast holds the current conditions and one entry per following day,
// each picked as close to noon as the series allows.
type Forecast struct {
	Current Conditions
	Days    []Conditions
}

type Client struct {
	baseURL string
	http    *httpclient.Client
	loc     *time.Location
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLocation sets the zone used to split the series into days.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.loc = loc }
}

func NewClient(baseURL string, http *httpclient.Client, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http,
		loc:     time.Local,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type smhiResponse struct {
	TimeSeries []struct {
		ValidTime  time.Time `json:"validTime"`
		Parameters []struct {
			Name   string    `json:"name"`
			Values []float64 `json:"values"`
		} `json:"parameters"`
	} `json:"timeSeries"`
}

// GetForecast loads the pmp3g point forecast for lat/lon.
func (c *Client) GetForecast(ctx context.Context, lat, lon float64) (*Forecast, error) {
	endpoint := fmt.Sprintf("%s/api/category/pmp3g/version/2/geotype/point/lon/%.4f/lat/%.4f/data.json", c.baseURL, lon, lat)

	var resp smhiResponse
	if err := c.http.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch forecast: %w", err)
	}
	if len(resp.TimeSeries) == 0 {
		return nil, errors.New("forecast contains no data")
	}

	points := make([]Conditions, 0, len(resp.TimeSeries))
	for _, entry := range resp.TimeSeries {
		p := Conditions{Time: entry.ValidTime.In(c.loc)}
		for _, param := range entry.Parameters {
			if len(param.Values) == 0 {
				continue
			}
			switch param.Name {
			case "t":
				p.Temperature = param.Values[0]
			case "Wsymb2":
				p.Symbol = int(param.Values[0])
			}
		}
		points = append(points, p)
	}

	return &Forecast{Current: points[0], Days: c.daily(points)}, nil
}

func (c *Client) daily(points []Conditions) []Conditions {
	today := c.now().In(c.loc).Format(time.DateOnly)
	best := map[string]Conditions{}
	for _, p := range points {
		day := p.Time.Format(time.DateOnly)
		if day == today {
			continue
		}
		cur, ok := best[day]
		if !ok || noonDistance(p.Time) < noonDistance(cur.Time) {
			best[day] = p
		}
	}

	days := make([]string, 0, len(best))
	for d := range best {
		days = append(days, d)
	}
	sort.Strings(days)
	if len(days) > forecastDays {
		days = days[:forecastDays]
	}

	out := make([]Conditions, 0, len(days))
	for _, d := range days {
		out = append(out, best[d])
	}
	return out
}

func noonDistance(t time.Time) float64 {
	return math.Abs(float64(t.Hour()) + float64(t.Minute())/60 - 12)
}

// Summary renders the forecast as spoken Swedish.
func (f *Forecast) Summary(formatter *speech.Formatter) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Vädret just nu är %s och det är %s.", f.Current.Description(), formatter.Temperature(f.Current.Temperature))
	if len(f.Days) == 0 {
		sb.WriteString(" Jag kunde tyvärr inte hitta några detaljer för resten av veckan.")
		return sb.String()
	}
	parts := make([]string, 0, len(f.Days))
	for _, d := range f.Days {
		parts = append(parts, fmt.Sprintf("på %s blir det %s och %s", weekdays[d.Time.Weekday()], d.Description(), formatter.Temperature(d.Temperature)))
	}
	sb.WriteString(" Här är prognosen för veckan: ")
	sb.WriteString(strings.Join(parts, ", "))
	sb.WriteString(".")
	return sb.String()
}

// Payload is the enrichment form of the forecast.
func (f *Forecast) Payload() map[string]any {
	days := make([]any, 0, len(f.Days))
	for _, d := range f.Days {
		days = append(days, map[string]any{
			"dag":         weekdays[d.Time.Weekday()],
			"datum":       d.Time.Format(time.DateOnly),
			"temperatur":  d.Temperature,
			"förhållande": d.Description(),
		})
	}
	return map[string]any{
		"just_nu_temperatur":  f.Current.Temperature,
		"just_nu_förhållande": f.Current.Description(),
		"prognos":             days,
	}
}
