package main

import (
	"bytes"
	"testing"

	"github.com/colorfulnotion/zkmut/trace"
	"github.com/colorfulnotion/zkmut/trace/tracetest"
	"github.com/stretchr/testify/require"
)

func exploreFixture() *trace.Index {
	return tracetest.New().
		Cycle(10, 0x1004, 0, 0, tracetest.RegRead("a1", 1), tracetest.RegRead("a2", 2), tracetest.RegWrite("a0", 3, 0)).
		Cycle(11, 0x1008, 6, 2, tracetest.RegRead("sp", 0x800), tracetest.RegRead("a0", 3), tracetest.Write(0x200, 3, 0)).
		Cycle(12, 0x1004, 0, 0, tracetest.RegRead("a1", 1), tracetest.RegRead("a2", 2), tracetest.RegWrite("a0", 3, 3)).
		Index()
}

func run(t *testing.T, sh *shell, buf *bytes.Buffer, line string) string {
	t.Helper()
	buf.Reset()
	require.NoError(t, sh.exec(line))
	return buf.String()
}

func TestShellCommands(t *testing.T) {
	var buf bytes.Buffer
	sh := newShell(exploreFixture(), &buf)

	require.Contains(t, run(t, sh, &buf, "help"), "targets <kind> <step>")
	require.Contains(t, run(t, sh, &buf, "summary"), "3 cycles")
	require.Contains(t, run(t, sh, &buf, "cycle 11"), "step 11")

	out := run(t, sh, &buf, "step 11")
	require.Contains(t, out, "step 11")
	require.Contains(t, out, "WRITE")

	require.Contains(t, run(t, sh, &buf, "decode 0x00000033"), "Add")
	require.Equal(t, 2, bytes.Count([]byte(run(t, sh, &buf, "pc 0x1004")), []byte("\n")))
	require.Contains(t, run(t, sh, &buf, "locate 12 0x1000"), "step 12")
	require.Contains(t, run(t, sh, &buf, "locate 12 0x1000 2"), "step 10")
	require.Contains(t, run(t, sh, &buf, "targets STORE_OUT_MOD 11"), "0x00000200")

	require.Error(t, sh.exec("cycle 99"))
	require.Error(t, sh.exec("targets LOAD_VAL_MOD 10"))
}

func TestShellJavaScript(t *testing.T) {
	var buf bytes.Buffer
	sh := newShell(exploreFixture(), &buf)

	require.Equal(t, "4104\n", run(t, sh, &buf, "cycle(11).pc"))
	require.Equal(t, "3\n", run(t, sh, &buf, "txns(10).length"))
	require.Equal(t, "2\n", run(t, sh, &buf, "pc(0x1004).length"))
	require.Contains(t, run(t, sh, &buf, "decode(0x33)"), "Add")
	require.Contains(t, run(t, sh, &buf, "locate(12, 0x1000, 2)"), "step 10")
	require.Equal(t, "1\n", run(t, sh, &buf, "targets('COMP_OUT_MOD', 10).length"))

	require.Error(t, sh.exec("targets('NOPE', 10)"))
	require.Error(t, sh.exec("cycle("))
}
