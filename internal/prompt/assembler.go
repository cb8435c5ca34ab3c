// Package prompt turns history, enrichment snapshots and the new utterance
// into a provider-neutral request.
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"daa-assistant/backend/ai"
	"daa-assistant/backend/internal/enrichment"
	"daa-assistant/backend/pkg/chat"
	"daa-assistant/backend/pkg/speech"
)

type section struct {
	Header    string
	Directive string
}

var sections = map[string]map[enrichment.Source]section{
	"sv": {
		enrichment.Health:   {"HÄLSODATA", "Analysera hälsodatan och ge konkreta råd."},
		enrichment.Activity: {"TRÄNINGSDATA", "Analysera träningen och ge konkret feedback."},
		enrichment.Sensor:   {"INOMHUSKLIMAT", "Sammanfatta inomhusklimatet och påpeka avvikelser."},
		enrichment.Calendar: {"KALENDER", "Använd kalendern när du svarar om tider och planering."},
		enrichment.Weather:  {"VÄDER", "Sammanfatta vädret kort och ge klädråd om det behövs."},
	},
	"en": {
		enrichment.Health:   {"HEALTH DATA", "Analyze the health data and give concrete advice."},
		enrichment.Activity: {"TRAINING DATA", "Analyze the training and give concrete feedback."},
		enrichment.Sensor:   {"INDOOR CLIMATE", "Summarize the indoor climate and point out anything unusual."},
		enrichment.Calendar: {"CALENDAR", "Use the calendar when answering about times and plans."},
		enrichment.Weather:  {"WEATHER", "Summarize the weather briefly and suggest clothing if relevant."},
	},
}

var fetchedLabel = map[string]string{"sv": "hämtad", "en": "fetched"}

// Assembler builds ai.Request values.
type Assembler struct {
	speech *speech.Formatter
	tools  *ai.ToolTable
}

func NewAssembler(formatter *speech.Formatter, tools *ai.ToolTable) *Assembler {
	if formatter == nil {
		formatter = speech.NewFormatter(speech.Swedish)
	}
	return &Assembler{speech: formatter, tools: tools}
}

// Build merges the system text with one block per enrichment record and
// drops a trailing history turn that repeats the utterance. history is
// never modified.
func (a *Assembler) Build(system string, history []chat.Message, records []*enrichment.Record, utterance, image string) ai.Request {
	var sb strings.Builder
	sb.WriteString(system)
	for _, rec := range records {
		if rec == nil {
			continue
		}
		a.writeRecord(&sb, rec)
	}

	trimmed := history
	if n := len(trimmed); n > 0 {
		last := trimmed[n-1]
		if last.Role == chat.RoleUser && strings.TrimSpace(last.Content) == strings.TrimSpace(utterance) {
			trimmed = trimmed[:n-1]
		}
	}

	return ai.Request{
		SystemInstruction: sb.String(),
		History:           chat.Clone(trimmed),
		NewUserMessage:    utterance,
		Image:             image,
		Tools:             a.tools.Declarations(),
	}
}

func (a *Assembler) writeRecord(sb *strings.Builder, rec *enrichment.Record) {
	code := a.speech.Locale().Code
	table, ok := sections[code]
	if !ok {
		table = sections["sv"]
		code = "sv"
	}
	sec, ok := table[rec.Source]
	if !ok {
		sec = section{Header: strings.ToUpper(string(rec.Source))}
	}

	sb.WriteString("\n\n--- ")
	sb.WriteString(sec.Header)
	if !rec.FetchedAt.IsZero() {
		fmt.Fprintf(sb, " (%s %s)", fetchedLabel[code], rec.FetchedAt.Format("2006-01-02 15:04"))
	}
	sb.WriteString(" ---\n")
	a.writePayload(sb, rec.Payload, "")
	if sec.Directive != "" {
		sb.WriteString(sec.Directive)
		sb.WriteString("\n")
	}
}

func (a *Assembler) writePayload(sb *strings.Builder, payload map[string]any, indent string) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := payload[k].(type) {
		case map[string]any:
			fmt.Fprintf(sb, "%s- %s:\n", indent, k)
			a.writePayload(sb, v, indent+"  ")
		case []any:
			fmt.Fprintf(sb, "%s- %s:\n", indent, k)
			for _, item := range v {
				fmt.Fprintf(sb, "%s  - %s\n", indent, a.inline(k, item))
			}
		default:
			fmt.Fprintf(sb, "%s- %s: %s\n", indent, k, a.value(k, v))
		}
	}
}

// inline renders a list item on one line.
func (a *Assembler) inline(key string, item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return a.value(key, item)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+a.value(k, m[k]))
	}
	return strings.Join(parts, ", ")
}

// value renders a scalar. Temperatures are spelled out so no degree symbol
// reaches the model.
func (a *Assembler) value(key string, v any) string {
	if isTemperatureKey(key) {
		if f, ok := number(v); ok {
			return a.speech.Temperature(f)
		}
		if s, ok := v.(string); ok {
			if spoken := a.speech.TemperatureString(stripUnit(s)); spoken != stripUnit(s) {
				return spoken
			}
		}
	}
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func isTemperatureKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "temp")
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func stripUnit(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "°C")
	s = strings.TrimSuffix(s, "°")
	return strings.TrimSpace(s)
}
