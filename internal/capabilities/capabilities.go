// Package capabilities binds the integrations to the two places the
// assistant uses them: callable tools and enrichment sources.
package capabilities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"daa-assistant/backend/ai"
	"daa-assistant/backend/internal/integrations/calendar"
	"daa-assistant/backend/internal/integrations/fitness"
	"daa-assistant/backend/internal/integrations/homeassistant"
	"daa-assistant/backend/internal/integrations/sensor"
	"daa-assistant/backend/internal/integrations/weather"
	"daa-assistant/backend/pkg/speech"
)

// Integrations holds the configured collaborators. Nil fields are skipped.
type Integrations struct {
	HomeAssistant *homeassistant.Client
	Sensors       sensor.Reader
	Calendar      *calendar.Client
	Weather       *weather.Client
	Strava        *fitness.StravaClient
	Withings      *fitness.WithingsClient

	Speech        *speech.Formatter
	Latitude      float64
	Longitude     float64
	IndoorSensors []string
	Location      *time.Location
}

func (in Integrations) formatter() *speech.Formatter {
	if in.Speech == nil {
		return speech.NewFormatter(speech.Swedish)
	}
	return in.Speech
}

func (in Integrations) location() *time.Location {
	if in.Location == nil {
		return time.Local
	}
	return in.Location
}

type tool struct {
	decl ai.ToolDeclaration
	fn   ai.ToolFunc
}

// RegisterTools adds every tool whose integration is configured and returns
// the registered names.
func RegisterTools(table *ai.ToolTable, in Integrations) ([]string, error) {
	var tools []tool

	if in.Sensors != nil {
		tools = append(tools, tool{
			decl: ai.ToolDeclaration{
				Name:        "get_sensor_data",
				Description: "Läser temperatur, luftfuktighet och andra värden från en Zigbee-sensor.",
				Parameters:  ai.ObjectSchema(map[string]string{"friendly_name": "Sensorns namn i Zigbee2MQTT, t.ex. Vardagsrum"}, "friendly_name"),
			},
			fn: func(ctx context.Context, args map[string]any) (string, error) {
				name := ai.StringArg(args, "friendly_name")
				if name == "" {
					return "", errors.New("friendly_name is required")
				}
				payload, err := in.Sensors.ReadSensor(ctx, name)
				if err != nil {
					return fmt.Sprintf("Inget svar från %s.", name), nil
				}
				return sensor.Describe(name, speakTemperatures(in.formatter(), payload)), nil
			},
		})
	}

	if in.HomeAssistant.Configured() {
		ha := in.HomeAssistant
		tools = append(tools,
			tool{
				decl: ai.ToolDeclaration{
					Name:        "get_ha_state",
					Description: "Hämtar status för en entitet i Home Assistant.",
					Parameters:  ai.ObjectSchema(map[string]string{"entity_id": "Entitetens ID, t.ex. sensor.ute_temperature"}, "entity_id"),
				},
				fn: func(ctx context.Context, args map[string]any) (string, error) {
					id := ai.StringArg(args, "entity_id")
					text, err := ha.DescribeState(ctx, id)
					if err != nil {
						return fmt.Sprintf("Kunde inte hitta status för %s.", id), nil
					}
					return text, nil
				},
			},
			tool{
				decl: ai.ToolDeclaration{
					Name:        "control_light",
					Description: "Tänder eller släcker en lampa.",
					Parameters: ai.ObjectSchema(map[string]string{
						"entity_id": "Lampans ID, t.ex. light.kontor",
						"action":    "on eller off",
					}, "entity_id", "action"),
				},
				fn: func(ctx context.Context, args map[string]any) (string, error) {
					on := homeassistant.LightOn(ai.StringArg(args, "action"))
					if err := ha.SetLightState(ctx, ai.StringArg(args, "entity_id"), on); err != nil {
						return "", fmt.Errorf("kunde inte styra ljuset: %w", err)
					}
					if on {
						return "Ljuset är nu tänt.", nil
					}
					return "Ljuset är nu släckt.", nil
				},
			},
			tool{
				decl: ai.ToolDeclaration{
					Name:        "control_vacuum",
					Description: "Styr dammsugaren: start, stop, pause eller dock.",
					Parameters: ai.ObjectSchema(map[string]string{
						"entity_id": "Dammsugarens ID, t.ex. vacuum.roborock",
						"action":    "start, stop, pause eller dock",
					}, "entity_id", "action"),
				},
				fn: func(ctx context.Context, args map[string]any) (string, error) {
					action := ai.StringArg(args, "action")
					if err := ha.SetVacuumAction(ctx, ai.StringArg(args, "entity_id"), action); err != nil {
						return "", fmt.Errorf("kunde inte styra dammsugaren: %w", err)
					}
					return fmt.Sprintf("Dammsugaren: %s utförd.", action), nil
				},
			},
		)
	}

	if in.Calendar != nil {
		cal := in.Calendar
		loc := in.location()
		tools = append(tools,
			tool{
				decl: ai.ToolDeclaration{
					Name:        "get_calendar_events",
					Description: "Hämtar kommande händelser i kalendern.",
					Parameters:  ai.ObjectSchema(map[string]string{"max_results": "Max antal händelser (standard 5)"}),
				},
				fn: func(ctx context.Context, args map[string]any) (string, error) {
					return cal.ListUpcomingEvents(ctx, ai.IntArg(args, "max_results", 5))
				},
			},
			tool{
				decl: ai.ToolDeclaration{
					Name:        "create_calendar_event",
					Description: "Bokar en händelse i kalendern.",
					Parameters: ai.ObjectSchema(map[string]string{
						"summary":    "Rubrik",
						"start_time": "Starttid, ISO 8601 (2024-03-06T18:00)",
						"end_time":   "Sluttid, ISO 8601. Utelämnas för en timme.",
					}, "summary", "start_time"),
				},
				fn: func(ctx context.Context, args map[string]any) (string, error) {
					start, err := ParseTime(ai.StringArg(args, "start_time"), loc)
					if err != nil {
						return "", err
					}
					end := start.Add(time.Hour)
					if raw := ai.StringArg(args, "end_time"); raw != "" {
						if end, err = ParseTime(raw, loc); err != nil {
							return "", err
						}
					}
					return cal.CreateEvent(ctx, ai.StringArg(args, "summary"), start, end)
				},
			},
		)
	}

	if in.Weather != nil {
		w := in.Weather
		tools = append(tools, tool{
			decl: ai.ToolDeclaration{
				Name:        "get_weather",
				Description: "Hämtar aktuellt väder och prognos för de kommande dagarna.",
			},
			fn: func(ctx context.Context, _ map[string]any) (string, error) {
				f, err := w.GetForecast(ctx, in.Latitude, in.Longitude)
				if err != nil {
					return "Kunde inte nå vädertjänsten just nu.", nil
				}
				return f.Summary(in.formatter()), nil
			},
		})
	}

	names := make([]string, 0, len(tools))
	for _, t := range tools {
		if err := table.Register(t.decl, t.fn); err != nil {
			return names, err
		}
		names = append(names, t.decl.Name)
	}
	return names, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseTime accepts RFC 3339 or a local date and time without zone.
func ParseTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range timeLayouts[1:] {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", raw)
}

func speakTemperatures(f *speech.Formatter, payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if n, ok := v.(float64); ok && strings.Contains(strings.ToLower(k), "temp") {
			out[k] = f.Temperature(n)
			continue
		}
		out[k] = v
	}
	return out
}
