// Package homeassistant talks to the Home Assistant REST API.
package homeassistant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"daa-assistant/backend/internal/integrations/httpclient"
	"daa-assistant/backend/pkg/speech"
)

// ErrNotConfigured is returned when no base URL or token is set.
var ErrNotConfigured = errors.New("home assistant is not configured")

// Vacuum actions accepted by SetVacuumAction.
const (
	VacuumStart        = "start"
	VacuumStop         = "stop"
	VacuumPause        = "pause"
	VacuumReturnToBase = "return_to_base"
)

var vacuumAliases = map[string]string{
	"start":          VacuumStart,
	"starta":         VacuumStart,
	"städa":          VacuumStart,
	"stop":           VacuumStop,
	"stopp":          VacuumStop,
	"stoppa":         VacuumStop,
	"pause":          VacuumPause,
	"pausa":          VacuumPause,
	"dock":           VacuumReturnToBase,
	"docka":          VacuumReturnToBase,
	"home":           VacuumReturnToBase,
	"return_to_base": VacuumReturnToBase,
}

// NormalizeVacuumAction maps user and model phrasing to a vacuum service name.
func NormalizeVacuumAction(action string) (string, bool) {
	a, ok := vacuumAliases[strings.ToLower(strings.TrimSpace(action))]
	return a, ok
}

// LightOn reports whether action asks for the light to be switched on.
func LightOn(action string) bool {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "on", "tänd", "tända", "starta", "true", "1", "turn_on", "på":
		return true
	}
	return false
}

// State is an entity state as returned by /api/states/{entity_id}.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
}

// Unit returns the unit_of_measurement attribute, if any.
func (s *State) Unit() string {
	u, _ := s.Attributes["unit_of_measurement"].(string)
	return u
}

// IsTemperature reports whether the state is a temperature reading.
func (s *State) IsTemperature() bool {
	return s.Unit() == "°C" || strings.Contains(strings.ToLower(s.EntityID), "temperature")
}

type Client struct {
	baseURL string
	token   string
	http    *httpclient.Client
	speech  *speech.Formatter
}

func NewClient(baseURL, token string, http *httpclient.Client, formatter *speech.Formatter) *Client {
	if formatter == nil {
		formatter = speech.NewFormatter(speech.Swedish)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    http,
		speech:  formatter,
	}
}

// Configured reports whether the client has a base URL and token.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.token != ""
}

// GetEntityState returns the current state of entityID.
func (c *Client) GetEntityState(ctx context.Context, entityID string) (*State, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if entityID == "" {
		return nil, errors.New("entity id is required")
	}
	var state State
	endpoint := c.baseURL + "/api/states/" + url.PathEscape(entityID)
	if err := c.http.GetJSON(ctx, endpoint, httpclient.Bearer(c.token), &state); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", entityID, err)
	}
	return &state, nil
}

// DescribeState renders an entity state as a spoken sentence. Temperatures
// are spelled out.
func (c *Client) DescribeState(ctx context.Context, entityID string) (string, error) {
	state, err := c.GetEntityState(ctx, entityID)
	if err != nil {
		return "", err
	}
	if state.IsTemperature() {
		return fmt.Sprintf("Status för %s är %s.", entityID, c.speech.TemperatureString(state.State)), nil
	}
	return strings.TrimSpace(fmt.Sprintf("Status för %s är %s %s", entityID, state.State, state.Unit())) + ".", nil
}

// SetLightState switches a light on or off.
func (c *Client) SetLightState(ctx context.Context, entityID string, on bool) error {
	service := "turn_off"
	if on {
		service = "turn_on"
	}
	return c.callService(ctx, "light", service, entityID)
}

// SetVacuumAction runs start, stop, pause or return_to_base on a vacuum.
// Aliases such as "dock" are accepted.
func (c *Client) SetVacuumAction(ctx context.Context, entityID, action string) error {
	service, ok := NormalizeVacuumAction(action)
	if !ok {
		return fmt.Errorf("unsupported vacuum action %q", action)
	}
	return c.callService(ctx, "vacuum", service, entityID)
}

func (c *Client) callService(ctx context.Context, domain, service, entityID string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if entityID == "" {
		return errors.New("entity id is required")
	}
	endpoint := fmt.Sprintf("%s/api/services/%s/%s", c.baseURL, domain, service)
	body := map[string]string{"entity_id": entityID}
	if err := c.http.PostJSON(ctx, endpoint, httpclient.Bearer(c.token), body, nil); err != nil {
		return fmt.Errorf("failed to call %s.%s: %w", domain, service, err)
	}
	return nil
}

// Ping checks that the API answers with the configured token.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	var out struct {
		Message string `json:"message"`
	}
	return c.http.GetJSON(ctx, c.baseURL+"/api/", httpclient.Bearer(c.token), &out)
}
