package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_JSONWithService(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Format: JSON, Output: &buf, Service: "travel-booking"})

	l.Info("dropped")
	l.Warn("kept", "booking_id", "b-1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "kept", rec["msg"])
	require.Equal(t, "travel-booking", rec["service"])
	require.Equal(t, "b-1", rec["booking_id"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Level: DEBUG, Format: "TEXT", Output: &buf}).Debug("hello")
	require.Contains(t, buf.String(), "msg=hello")
}

func TestMask(t *testing.T) {
	require.Equal(t, "****", Mask("a@b"))
	require.Equal(t, "al*************om", Mask("alice@example.com"))
	require.Equal(t, "10*****01", Mask("10.0.0.01"))
}
