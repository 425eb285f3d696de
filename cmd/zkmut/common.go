package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/colorfulnotion/zkmut/correlate"
	"github.com/colorfulnotion/zkmut/insn"
	"github.com/colorfulnotion/zkmut/trace"
)

// parseUint accepts decimal or 0x-prefixed hex.
func parseUint(s string, bits int) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 0, bits)
}

// openIndex loads the preflight trace. Transactions are optional for
// commands that only look at cycles.
func openIndex(cyclesPath, txnsPath string) (*trace.Index, error) {
	if cyclesPath == "" {
		return nil, fmt.Errorf("--cycles is required")
	}
	return trace.LoadIndex(cyclesPath, txnsPath)
}

// stepOffset resolves the drift to use for locating faults: an explicit
// --offset wins, else one is estimated from the injector's execution log.
// nil means neither was given.
func stepOffset(offset, execPath string, ix *trace.Index) (*int64, error) {
	if offset != "" {
		v, err := strconv.ParseInt(offset, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("--offset: %w", err)
		}
		return &v, nil
	}
	if execPath == "" {
		return nil, nil
	}
	exec, err := trace.ReadJSONLFile[trace.ExecRecord](execPath)
	if err != nil {
		return nil, err
	}
	est := correlate.EstimateOffset(exec, ix.Cycles())
	if !est.Found() {
		return nil, nil
	}
	return &est.Offset, nil
}

// parseClass reads "major.minor" or "major:minor".
func parseClass(s string) (*insn.Class, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == ':' })
	if len(parts) != 2 {
		return nil, fmt.Errorf("class %q: want major.minor", s)
	}
	major, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("class %q: %w", s, err)
	}
	minor, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("class %q: %w", s, err)
	}
	return &insn.Class{Major: uint8(major), Minor: uint8(minor)}, nil
}
