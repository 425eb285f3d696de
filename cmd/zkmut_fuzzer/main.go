package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/colorfulnotion/zkmut/fuzz"
	"github.com/colorfulnotion/zkmut/log"
	"github.com/colorfulnotion/zkmut/resolve"
	"github.com/colorfulnotion/zkmut/storage"
	"github.com/colorfulnotion/zkmut/telemetry"
	"github.com/colorfulnotion/zkmut/trace"
)

func main() {
	var (
		cyclesPath  string
		txnsPath    string
		storePath   = filepath.Join(os.TempDir(), "zkmut_coverage")
		configDir   = filepath.Join(os.TempDir(), "zkmut_configs")
		harness     string
		harnessArgs string
		target      string
		kind        = fuzz.KindAll
		selector    = string(fuzz.SelectRandom)
		values      = string(fuzz.ValueMixed)
		strategy    = string(resolve.NextRead)
		mutations   = 100
		seed        uint64
		logLevel    = "info"
		logFormat   = log.FormatTerminal
		debug       string
		telemetryEP string
		showVersion bool
	)

	fReg := fuzz.NewFlagRegistry("zkmut_fuzzer")
	for _, err := range []error{
		fReg.RegisterFlag("cycles", "c", cyclesPath, "Preflight cycles (JSONL)", &cyclesPath),
		fReg.RegisterFlag("txns", "t", txnsPath, "Preflight transactions (JSONL)", &txnsPath),
		fReg.RegisterFlag("store", "s", storePath, "Coverage store directory (empty for in-memory)", &storePath),
		fReg.RegisterFlag("config-dir", "", configDir, "Directory for planned descriptors when no harness is given", &configDir),
		fReg.RegisterFlag("harness", "", harness, "Prover harness binary run once per mutation", &harness),
		fReg.RegisterFlag("harness-args", "", harnessArgs, "Space separated harness arguments", &harnessArgs),
		fReg.RegisterFlag("target", "", target, "Guest program label stored with the campaign", &target),
		fReg.RegisterChoice("kind", "k", kind, "Mutation kind", &kind, fuzz.KindChoices()...),
		fReg.RegisterChoice("selector", "", selector, "Step selector", &selector, fuzz.SelectorChoices()...),
		fReg.RegisterChoice("values", "", values, "Value strategy", &values, fuzz.ValueChoices()...),
		fReg.RegisterChoice("strategy", "", strategy, "Register strategy", &strategy, string(resolve.NextRead), string(resolve.PrevWrite)),
		fReg.RegisterFlag("mutations", "n", mutations, "Mutations to attempt", &mutations),
		fReg.RegisterFlag("seed", "", seed, "Random seed (0 picks one)", &seed),
		fReg.RegisterFlag("log-level", "", logLevel, "Log level", &logLevel),
		fReg.RegisterChoice("log-format", "", logFormat, "Log format", &logFormat, log.FormatTerminal, log.FormatLogfmt, log.FormatJSON),
		fReg.RegisterFlag("debug", "d", debug, "Modules with debug logging", &debug),
		fReg.RegisterFlag("telemetry", "", telemetryEP, "OTLP/HTTP collector endpoint", &telemetryEP),
		fReg.RegisterFlag("version", "v", showVersion, "Print version and exit", &showVersion),
	} {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	if err := fReg.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("zkmut_fuzzer %s\n", fuzz.FUZZ_VERSION)
		return
	}

	if err := log.Setup(os.Stderr, logLevel, logFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log.EnableModules(debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := telemetry.Init(ctx, telemetryEP, true); err != nil {
		log.Crit(log.FuzzModule, "telemetry", "err", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	if err := run(ctx, runConfig{
		cyclesPath:  cyclesPath,
		txnsPath:    txnsPath,
		storePath:   storePath,
		configDir:   configDir,
		harness:     harness,
		harnessArgs: strings.Fields(harnessArgs),
		mutations:   mutations,
		campaign: fuzz.Config{
			Target:      target,
			Args:        strings.Fields(harnessArgs),
			Kind:        kind,
			Selector:    fuzz.SelectorStrategy(selector),
			Values:      fuzz.ValueStrategy(values),
			RegStrategy: resolve.RegStrategy(strategy),
			Seed:        seed,
		},
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runConfig struct {
	cyclesPath, txnsPath string
	storePath, configDir string
	harness              string
	harnessArgs          []string
	mutations            int
	campaign             fuzz.Config
}

func run(ctx context.Context, rc runConfig) error {
	if rc.cyclesPath == "" || rc.txnsPath == "" {
		return errors.New("--cycles and --txns are required")
	}
	ix, err := trace.LoadIndex(rc.cyclesPath, rc.txnsPath)
	if err != nil {
		return err
	}
	fmt.Println(ix.Summary())

	store, err := storage.NewCoverageStore(rc.storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	var runner fuzz.Runner
	if rc.harness != "" {
		runner, err = fuzz.NewCommandRunner(rc.harness, rc.harnessArgs, rc.configDir)
	} else {
		runner, err = fuzz.NewConfigDirRunner(rc.configDir)
		log.Warn(log.FuzzModule, "no harness given, descriptors are only written", "dir", rc.configDir)
	}
	if err != nil {
		return err
	}

	c, err := fuzz.NewCampaign(ix, store, runner, rc.campaign)
	if err != nil {
		return err
	}
	stats, runErr := c.Run(ctx, rc.mutations)
	if stats != nil {
		dump, err := stats.DumpMetrics()
		if err != nil {
			return err
		}
		fmt.Printf("campaign %d (seed %d)\n%s\n", c.ID(), c.Config().Seed, dump)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	cov, err := store.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("store: %d mutations, %d failures, %d constraint sites, verifier acceptance %.3f\n",
		cov.TotalMutations, cov.TotalFailures, cov.TotalConstraints, cov.VerifierAcceptanceRate)
	for _, e := range cov.TopConstraints {
		fmt.Printf("  %-40s %d\n", e.Site, e.HitCount)
	}
	return nil
}
