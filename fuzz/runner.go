package fuzz

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"

	"github.com/colorfulnotion/zkmut/log"
	"github.com/colorfulnotion/zkmut/resolve"
	"github.com/colorfulnotion/zkmut/trace"
)

// RunResult is what the prover harness reports for one mutated run.
type RunResult struct {
	Failures         []trace.ConstraintFailure `json:"failures"`
	VerifierAccepted bool                      `json:"verifier_accepted"`
	ProverError      string                    `json:"prover_error,omitempty"`
	Panicked         bool                      `json:"panicked,omitempty"`
}

// GuestCrashed reports a run that died before any constraint was checked.
// A run that recorded failures and then errored is not a crash.
func (r *RunResult) GuestCrashed() bool {
	return len(r.Failures) == 0 && (r.ProverError != "" || r.Panicked)
}

// Runner executes the prover on one mutation descriptor.
type Runner interface {
	Run(ctx context.Context, d *resolve.Descriptor) (*RunResult, error)
}

// ConfigDirRunner writes each descriptor to Dir and reports a clean run.
// It plans a campaign for an out-of-band harness.
type ConfigDirRunner struct {
	Dir string
	n   atomic.Uint64
}

func NewConfigDirRunner(dir string) (*ConfigDirRunner, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &ConfigDirRunner{Dir: dir}, nil
}

func (r *ConfigDirRunner) Run(ctx context.Context, d *resolve.Descriptor) (*RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(r.Dir, fmt.Sprintf("mutation_%d.json", r.n.Add(1)))
	if err := d.WriteFile(path); err != nil {
		return nil, err
	}
	log.Trace(log.FuzzModule, "descriptor written", "path", path, "kind", d.MutationType, "step", d.Step)
	return &RunResult{}, nil
}

const (
	DefaultConfigEnv = "A4_MUTATION_CONFIG"
	DefaultResultEnv = "ZKMUT_RESULT"
)

// CommandRunner runs a harness command per mutation. The descriptor path is
// passed in ConfigEnv and the harness writes a JSON RunResult to the path in
// ResultEnv.
type CommandRunner struct {
	Binary    string
	Args      []string
	WorkDir   string
	ConfigEnv string
	ResultEnv string
	n         atomic.Uint64
}

func NewCommandRunner(binary string, args []string, workDir string) (*CommandRunner, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, err
	}
	return &CommandRunner{
		Binary:    binary,
		Args:      args,
		WorkDir:   workDir,
		ConfigEnv: DefaultConfigEnv,
		ResultEnv: DefaultResultEnv,
	}, nil
}

func (r *CommandRunner) Run(ctx context.Context, d *resolve.Descriptor) (*RunResult, error) {
	n := r.n.Add(1)
	configPath := filepath.Join(r.WorkDir, fmt.Sprintf("mutation_%d.json", n))
	resultPath := filepath.Join(r.WorkDir, fmt.Sprintf("result_%d.json", n))
	if err := d.WriteFile(configPath); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, r.Binary, r.Args...)
	cmd.Env = append(os.Environ(),
		r.ConfigEnv+"="+configPath,
		r.ResultEnv+"="+resultPath,
		"CONSTRAINT_CONTINUE=1",
	)
	out, runErr := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	raw, err := os.ReadFile(resultPath)
	if err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("%s: %w: %s", r.Binary, runErr, tail(out, 512))
		}
		return nil, fmt.Errorf("%s wrote no result: %w", r.Binary, err)
	}
	var res RunResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%s: %w", resultPath, err)
	}
	if runErr != nil && res.ProverError == "" && len(res.Failures) == 0 {
		res.ProverError = runErr.Error()
	}
	return &res, nil
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
