package overlay

import (
	"bytes"
	"testing"

	"github.com/inconshreveable/log15"
	"github.com/stretchr/testify/require"
)

func TestNewDevLoggerColorsLevelAndKeepsContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewDevLogger(&buf)
	l.Warn("dropping connection", "reason", "idle timeout")

	out := buf.String()
	require.Contains(t, out, "dropping connection")
	require.Contains(t, out, "reason=idle timeout")
	require.NotEqual(t, "", levelColor[log15.LvlWarn].Sprint(log15.LvlWarn.String()))
}
