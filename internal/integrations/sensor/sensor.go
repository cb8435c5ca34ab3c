// Package sensor reads Zigbee2MQTT device state, either straight from the
// MQTT broker or from a Redis mirror of the retained topics.
package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"
)

// ErrTimeout is returned when a sensor does not publish within the read timeout.
var ErrTimeout = errors.New("sensor did not answer in time")

// IgnoredKeys are diagnostic fields dropped from every reading.
var IgnoredKeys = []string{"linkquality", "update_available", "voltage", "device"}

// Reader reads the latest state of one named device.
type Reader interface {
	ReadSensor(ctx context.Context, name string) (map[string]any, error)
	Ping(ctx context.Context) error
}

// Filter returns a copy of payload without the ignored keys.
func Filter(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if isIgnored(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func isIgnored(key string) bool {
	for _, ignored := range IgnoredKeys {
		if strings.EqualFold(key, ignored) {
			return true
		}
	}
	return false
}

func decode(name string, raw []byte) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid payload from %s: %w", name, err)
	}
	return Filter(payload), nil
}

// Describe renders a reading as a sentence: "Data för Kök: humidity: 40, temperature: 21.4".
func Describe(name string, payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, payload[k]))
	}
	return fmt.Sprintf("Data för %s: %s", name, strings.Join(parts, ", "))
}

// Snapshot reads every named sensor in parallel. Sensors that fail are
// skipped; an error is returned only when none could be read.
func Snapshot(ctx context.Context, r Reader, names []string) (map[string]any, error) {
	if len(names) == 0 {
		return nil, errors.New("no sensors configured")
	}
	readings := make([]map[string]any, len(names))
	errs := make([]error, len(names))

	p := pool.New().WithMaxGoroutines(4)
	for i, name := range names {
		p.Go(func() {
			readings[i], errs[i] = r.ReadSensor(ctx, name)
		})
	}
	p.Wait()

	out := make(map[string]any, len(names))
	for i, name := range names {
		if errs[i] == nil && readings[i] != nil {
			out[name] = readings[i]
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sensor could be read: %w", errors.Join(errs...))
	}
	return out, nil
}
