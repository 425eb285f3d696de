package compare

import (
	"fmt"
	"regexp"

	"github.com/colorfulnotion/zkmut/trace"
)

var locPatterns = []struct {
	re   *regexp.Regexp
	full bool // name@file:line, otherwise name only
}{
	// loc(callsite( Name ( path/file.zir :line:col ...
	{regexp.MustCompile(`callsite\(\s*(\w+)\s*\(\s*\S+/(\w+\.\w+)\s*:(\d+)`), true},
	// Name(zirgen/.../file.zir:line)
	{regexp.MustCompile(`^(\w+)\(zirgen/[^:]+/(\w+\.\w+):(\d+)`), true},
	{regexp.MustCompile(`callsite\(\s*(\w+)\s*\(`), false},
	{regexp.MustCompile(`^(\w+)\(`), false},
}

const maxRawLoc = 40

// ShortLoc reduces a raw constraint location to "Name@file:line", or "Name"
// when no file is present. Unrecognised locations are truncated.
func ShortLoc(loc string) string {
	for _, p := range locPatterns {
		m := p.re.FindStringSubmatch(loc)
		if m == nil {
			continue
		}
		if p.full {
			return fmt.Sprintf("%s@%s:%s", m[1], m[2], m[3])
		}
		return m[1]
	}
	r := []rune(loc)
	if len(r) > maxRawLoc {
		r = r[:maxRawLoc]
	}
	return string(r)
}

// Signature identifies a failure by where it happened and which constraint
// fired: "step:pc:major:minor:shortloc".
func Signature(f *trace.ConstraintFailure) string {
	return fmt.Sprintf("%d:%d:%d:%d:%s", f.Step, f.PC, f.Major, f.Minor, ShortLoc(f.Loc))
}
