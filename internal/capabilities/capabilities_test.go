package capabilities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"daa-assistant/backend/ai"
	"daa-assistant/backend/internal/enrichment"
	"daa-assistant/backend/internal/integrations/homeassistant"
	"daa-assistant/backend/internal/integrations/httpclient"
	"daa-assistant/backend/internal/integrations/weather"
	"daa-assistant/backend/pkg/logger"
	"daa-assistant/backend/pkg/speech"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSensors map[string]map[string]any

func (s stubSensors) ReadSensor(_ context.Context, name string) (map[string]any, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return nil, errors.New("timeout")
}

func (s stubSensors) Ping(context.Context) error { return nil }

func TestRegisterOnlyConfiguredTools(t *testing.T) {
	table := ai.NewToolTable()
	names, err := RegisterTools(table, Integrations{Sensors: stubSensors{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"get_sensor_data"}, names)
	assert.False(t, table.Has("control_light"))
}

func TestSensorToolSpeaksTemperature(t *testing.T) {
	table := ai.NewToolTable()
	_, err := RegisterTools(table, Integrations{
		Sensors: stubSensors{"Kök": {"temperature": 21.4, "humidity": 40.0}},
		Speech:  speech.NewFormatter(speech.Swedish),
	})
	require.NoError(t, err)

	out := table.Call(context.Background(), "get_sensor_data", map[string]any{"friendly_name": "Kök"})
	assert.Equal(t, "Data för Kök: humidity: 40, temperature: plus tjugoett komma fyra grader", out)

	out = table.Call(context.Background(), "get_sensor_data", map[string]any{"friendly_name": "Hall"})
	assert.Equal(t, "Inget svar från Hall.", out)

	out = table.Call(context.Background(), "get_sensor_data", nil)
	assert.Equal(t, "error: friendly_name is required", out)
}

func TestHomeAssistantTools(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			paths = append(paths, r.URL.Path+" "+body["entity_id"])
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprint(w, `{"entity_id":"sensor.ute_temperature_2","state":"-10.0","attributes":{"unit_of_measurement":"°C"}}`)
	}))
	defer srv.Close()

	ha := homeassistant.NewClient(srv.URL, "token", httpclient.New(httpclient.DefaultOptions(), logger.Nop()), nil)
	table := ai.NewToolTable()
	names, err := RegisterTools(table, Integrations{HomeAssistant: ha})
	require.NoError(t, err)
	assert.Equal(t, []string{"get_ha_state", "control_light", "control_vacuum"}, names)

	ctx := context.Background()
	assert.Equal(t, "Status för sensor.ute_temperature_2 är minus tio grader.",
		table.Call(ctx, "get_ha_state", map[string]any{"entity_id": "sensor.ute_temperature_2"}))
	assert.Equal(t, "Ljuset är nu tänt.",
		table.Call(ctx, "control_light", map[string]any{"entity_id": "light.kontor_2", "action": "tänd"}))
	assert.Equal(t, "Dammsugaren: dock utförd.",
		table.Call(ctx, "control_vacuum", map[string]any{"entity_id": "vacuum.robot", "action": "dock"}))

	assert.Equal(t, []string{
		"/api/services/light/turn_on light.kontor_2",
		"/api/services/vacuum/return_to_base vacuum.robot",
	}, paths)
}

func TestWeatherToolAndSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"timeSeries":[{"validTime":"2024-03-04T10:00:00Z","parameters":[{"name":"t","values":[3.0]},{"name":"Wsymb2","values":[1]}]}]}`)
	}))
	defer srv.Close()

	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	in := Integrations{
		Weather: weather.NewClient(srv.URL, httpclient.New(httpclient.DefaultOptions(), logger.Nop()),
			weather.WithClock(func() time.Time { return now }), weather.WithLocation(time.UTC)),
		Latitude:  59.3,
		Longitude: 18.0,
	}

	table := ai.NewToolTable()
	_, err := RegisterTools(table, in)
	require.NoError(t, err)
	out := table.Call(context.Background(), "get_weather", nil)
	assert.Contains(t, out, "Vädret just nu är klart och det är plus tre grader.")

	sources := EnrichmentSources(in, TTLs{Weather: 10 * time.Minute})
	require.Len(t, sources, 1)
	assert.Equal(t, enrichment.Weather, sources[0].Source)
	assert.Equal(t, 10*time.Minute, sources[0].TTL)

	payload, err := sources[0].Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3.0, payload["just_nu_temperatur"])
}

func TestSensorSourceRequiresIndoorSensors(t *testing.T) {
	assert.Empty(t, EnrichmentSources(Integrations{Sensors: stubSensors{}}, TTLs{}))

	sources := EnrichmentSources(Integrations{
		Sensors:       stubSensors{"Sovrum": {"temperature": 19.0}},
		IndoorSensors: []string{"Sovrum"},
	}, TTLs{Sensor: time.Minute})
	require.Len(t, sources, 1)

	payload, err := sources[0].Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Sovrum": map[string]any{"temperature": 19.0}}, payload)
}

func TestParseTime(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-06T18:00:00Z", time.Date(2024, 3, 6, 18, 0, 0, 0, time.UTC)},
		{"2024-03-06T18:00", time.Date(2024, 3, 6, 18, 0, 0, 0, loc)},
		{"2024-03-06 18:30", time.Date(2024, 3, 6, 18, 30, 0, 0, loc)},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.in, loc)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), tt.in)
	}

	_, err := ParseTime("imorgon", loc)
	assert.Error(t, err)
}
