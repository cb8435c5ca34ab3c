package capabilities

import (
	"context"
	"time"

	"daa-assistant/backend/internal/enrichment"
	"daa-assistant/backend/internal/integrations/calendar"
	"daa-assistant/backend/internal/integrations/fitness"
	"daa-assistant/backend/internal/integrations/sensor"
)

// TTLs sets how long each enrichment source stays fresh.
type TTLs struct {
	Health   time.Duration
	Activity time.Duration
	Sensor   time.Duration
	Calendar time.Duration
	Weather  time.Duration
}

// EnrichmentSources returns one source per configured integration.
func EnrichmentSources(in Integrations, ttl TTLs) []enrichment.SourceConfig {
	var out []enrichment.SourceConfig

	if in.Withings.Configured() {
		out = append(out, enrichment.SourceConfig{
			Source: enrichment.Health,
			TTL:    ttl.Health,
			Fetch:  in.Withings.GetDailySummary,
		})
	}

	if in.Strava.Configured() {
		strava := in.Strava
		out = append(out, enrichment.SourceConfig{
			Source: enrichment.Activity,
			TTL:    ttl.Activity,
			Fetch: func(ctx context.Context) (map[string]any, error) {
				acts, err := strava.RecentActivities(ctx, 3)
				if err != nil {
					return nil, err
				}
				return fitness.ActivityPayload(acts), nil
			},
		})
	}

	if in.Sensors != nil && len(in.IndoorSensors) > 0 {
		reader, names := in.Sensors, in.IndoorSensors
		out = append(out, enrichment.SourceConfig{
			Source: enrichment.Sensor,
			TTL:    ttl.Sensor,
			Fetch: func(ctx context.Context) (map[string]any, error) {
				return sensor.Snapshot(ctx, reader, names)
			},
		})
	}

	if in.Calendar != nil {
		cal := in.Calendar
		out = append(out, enrichment.SourceConfig{
			Source: enrichment.Calendar,
			TTL:    ttl.Calendar,
			Fetch: func(ctx context.Context) (map[string]any, error) {
				events, err := cal.UpcomingEvents(ctx, 5)
				if err != nil {
					return nil, err
				}
				return calendar.Payload(events), nil
			},
		})
	}

	if in.Weather != nil {
		w := in.Weather
		out = append(out, enrichment.SourceConfig{
			Source: enrichment.Weather,
			TTL:    ttl.Weather,
			Fetch: func(ctx context.Context) (map[string]any, error) {
				f, err := w.GetForecast(ctx, in.Latitude, in.Longitude)
				if err != nil {
					return nil, err
				}
				return f.Payload(), nil
			},
		})
	}

	return out
}
