package ai

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// drain collects every fragment, failing the test if the stream never closes.
func drain(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var out []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case frag, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, frag)
		case <-timeout:
			require.FailNow(t, "stream did not close")
			return nil
		}
	}
}

func joined(t *testing.T, ch <-chan string) string {
	return strings.Join(drain(t, ch), "")
}

func weatherTools(t *testing.T, calls *[]map[string]any) *ToolTable {
	t.Helper()
	tools := NewToolTable()
	require.NoError(t, tools.Register(ToolDeclaration{
		Name:        "get_weather",
		Description: "Current weather",
		Parameters:  ObjectSchema(map[string]string{"city": "City name"}, "city"),
	}, func(_ context.Context, args map[string]any) (string, error) {
		*calls = append(*calls, args)
		return "plus tre grader och sol", nil
	}))
	return tools
}
