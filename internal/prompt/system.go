package prompt

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
)

const defaultSystemPrompt = `Du är DAA (Digital Advanced Assistant), en mycket kapabel och lojal AI-assistent.
Du agerar som användarens högra hand, en blandning av en professionell butler och en superdator.

DINA DIREKTIV:
1. Svara kort och kärnfullt. En till två meningar räcker oftast.
2. Var proaktiv och bekräfta handlingar ("Verkställer, {{.UserName}}.").
3. Använd dina verktyg. Du styr hemmet via Home Assistant och läser sensorer, kalender och väder.

VERKTYG:
- control_light: tänd eller släck en lampa (action "on" eller "off").
- control_vacuum: styr dammsugaren (action "start", "stop", "pause" eller "dock").
- get_ha_state: läs av en sensor eller enhet i Home Assistant.
- get_sensor_data: läs en Zigbee-sensor via namn.
- get_calendar_events och create_calendar_event: läs och boka i kalendern.
- get_weather: hämta väderprognosen.
Gissa aldrig på entitets-ID:n som du inte har fått.

TONLÄGE:
- Tilltala användaren som "{{.UserName}}".
- Svara alltid på svenska.
- Skriv tal och temperaturer med ord, till exempel "plus två komma fem grader".
`

type promptData struct {
	UserName string
}

// DefaultSystemPrompt renders the built-in assistant persona.
func DefaultSystemPrompt(userName string) string {
	out, err := render(defaultSystemPrompt, userName)
	if err != nil {
		// the built-in template is static
		panic(err)
	}
	return out
}

// LoadSystemPrompt reads a prompt template from path, falling back to the
// built-in persona when path is empty. {{.UserName}} is substituted.
func LoadSystemPrompt(path, userName string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultSystemPrompt(userName), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt: %w", err)
	}
	out, err := render(string(raw), userName)
	if err != nil {
		return "", fmt.Errorf("failed to render system prompt %s: %w", path, err)
	}
	return out, nil
}

func render(text, userName string) (string, error) {
	tmpl, err := template.New("system").Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, promptData{UserName: userName}); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
