package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStdoutLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)
	l.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	l.Info("poll completed", map[string]any{"attempt": 2})
	l.Error("poll failed", map[string]any{"error": errors.New("boom")})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.Equal(t, "INFO", first["level"])
	require.Equal(t, "poll completed", first["msg"])
	require.Equal(t, "2025-01-02T03:04:05Z", first["time"])
	require.EqualValues(t, 2, first["attempt"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	require.Equal(t, "ERROR", second["level"])
	require.Equal(t, "boom", second["error"])
}
