package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warning")
	require.NoError(t, err)
	require.Equal(t, LevelWarn, lvl)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}

func TestModuleFiltering(t *testing.T) {
	prev := Root()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(NewLogger(JSONHandler(&buf)))

	DisableModule(ResolveModule)
	Debug(ResolveModule, "hidden")
	require.Zero(t, buf.Len())

	EnableModules("resolve, compare")
	defer DisableModule(ResolveModule)
	defer DisableModule(CompareModule)
	Debug(ResolveModule, "shown", "step", 7)
	require.Contains(t, buf.String(), `"msg":"shown"`)
	require.Contains(t, buf.String(), `"module":"resolve"`)

	buf.Reset()
	Info(FuzzModule, "always")
	require.Contains(t, buf.String(), "always")
}

func TestSetupFormats(t *testing.T) {
	prev := Root()
	defer SetDefault(prev)

	var buf bytes.Buffer
	require.NoError(t, Setup(&buf, "info", FormatJSON))
	Debug(FuzzModule, "below level")
	Warn(StorageModule, "compacting", "entries", 3)
	require.NotContains(t, buf.String(), "below level")
	require.Contains(t, buf.String(), `"entries":3`)

	buf.Reset()
	require.NoError(t, Setup(&buf, "warn", FormatLogfmt))
	Info(FuzzModule, "dropped")
	Error(FuzzModule, "runner failed", "mutation", 9)
	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), "mutation=9")

	buf.Reset()
	require.NoError(t, Setup(&buf, "info", ""))
	Info(CompareModule, "plain")
	require.Contains(t, buf.String(), "plain")
	require.NotContains(t, buf.String(), "\x1b[")

	require.Error(t, Setup(&buf, "info", "xml"))
	require.Error(t, Setup(&buf, "loud", FormatJSON))
}
