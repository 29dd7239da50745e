package rpc

import (
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

// frame renders chunks the way the backend streams them
func frame(t *testing.T, chunks ...any) string {
	t.Helper()
	var b strings.Builder
	b.WriteString(AntiXSSIPrefix + "\n")
	for _, c := range chunks {
		line := mustJSON(t, c)
		b.WriteString(strconv.Itoa(len(line)) + "\n")
		b.WriteString(line + "\n")
	}
	return b.String()
}

func wrb(id, payload any) []any {
	return []any{"wrb.fr", id, payload, nil, nil, nil, "generic"}
}

func errEntry(info ...any) []any {
	return []any{"wrb.fr", nil, nil, nil, nil, info}
}

func passage(sourceID string) any {
	return []any{
		[]any{"passage-id"},
		[]any{nil, nil, 0.87, nil, nil, []any{[]any{[]any{sourceID}}}},
	}
}

// answerPayload builds the inner JSON string of a query chunk.
// typeCode nil leaves the type marker out.
func answerPayload(t *testing.T, text string, typeCode any, passages []any) string {
	t.Helper()
	typeInfo := []any{[]any{}, nil, nil, passages}
	if typeCode != nil {
		typeInfo = append(typeInfo, typeCode)
	}
	inner := []any{[]any{text, nil, []any{"conv-data"}, nil, typeInfo}}
	return mustJSON(t, inner)
}

func answerChunk(t *testing.T, text string, typeCode any, passages ...any) any {
	t.Helper()
	return []any{wrb(nil, answerPayload(t, text, typeCode, passages))}
}
