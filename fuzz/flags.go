package fuzz

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/colorfulnotion/zkmut/trace"
	"golang.org/x/exp/slices"
)

const (
	FUZZ_VERSION = "0.3.1"
)

// Choice lists for RegisterChoice.
func KindChoices() []string {
	out := []string{KindAll}
	for _, k := range trace.MutationKinds() {
		out = append(out, string(k))
	}
	return out
}

func SelectorChoices() []string {
	return []string{string(SelectRandom), string(SelectHeuristic), string(SelectGuided), string(SelectSequential)}
}

func ValueChoices() []string {
	out := make([]string, 0, 6)
	for _, v := range ValueStrategies() {
		out = append(out, string(v))
	}
	return out
}

var (
	ErrBadFlag       = errors.New("BadFlags")
	ErrDuplicateFlag = errors.New("DuplicateFlag")
	ErrUnknownFlag   = errors.New("UnknownFlag")
)

// FlagRegistry declares short/long flag pairs on a FlagSet and rejects
// malformed command lines the standard flag package would accept, such as
// "--h" for a short flag or both spellings of one flag.
type FlagRegistry struct {
	program     string
	fs          *flag.FlagSet
	flags       []registeredFlag
	registered  map[string]bool
	validLongs  map[string]struct{}
	validShorts map[string]struct{}
}

type registeredFlag struct {
	short       string
	long        string
	target      interface{}
	defaultVal  interface{}
	description string
	choices     []string
}

func NewFlagRegistry(programName string) *FlagRegistry {
	return &FlagRegistry{
		program:     programName,
		fs:          flag.NewFlagSet(programName, flag.ContinueOnError),
		registered:  make(map[string]bool),
		validLongs:  make(map[string]struct{}),
		validShorts: make(map[string]struct{}),
	}
}

func (r *FlagRegistry) FlagSet() *flag.FlagSet { return r.fs }

// Parse binds the registered flags and parses args (without the program
// name). flag.ErrHelp is returned after printing usage for -h.
func (r *FlagRegistry) Parse(args []string) error {
	if err := r.Register(); err != nil {
		return err
	}
	if err := r.validateFlagFormat(args); err != nil {
		return err
	}
	r.fs.Usage = func() { fmt.Fprint(r.fs.Output(), r.Usage()) }
	if err := r.fs.Parse(args); err != nil {
		return err
	}
	if err := r.validateNoConflict(); err != nil {
		return err
	}
	return r.validateChoices()
}

func (r *FlagRegistry) Args() []string { return r.fs.Args() }

func (r *FlagRegistry) RegisterFlag(long, short string, def interface{}, desc string, target interface{}) error {
	if target == nil || (long == "" && short == "") || len(short) > 1 {
		return fmt.Errorf("%w: --%s -%s", ErrBadFlag, long, short)
	}
	if short != "" && r.registered[short] {
		return fmt.Errorf("%w: -%s", ErrDuplicateFlag, short)
	}
	if long != "" && r.registered[long] {
		return fmt.Errorf("%w: --%s", ErrDuplicateFlag, long)
	}
	r.flags = append(r.flags, registeredFlag{
		short:       short,
		long:        long,
		target:      target,
		defaultVal:  def,
		description: desc,
	})
	if long != "" {
		r.validLongs[long] = struct{}{}
		r.registered[long] = true
	}
	if short != "" {
		r.validShorts[short] = struct{}{}
		r.registered[short] = true
	}
	return nil
}

// RegisterChoice registers a string flag whose value must be one of choices
// (compared case-sensitively) after parsing.
func (r *FlagRegistry) RegisterChoice(long, short, def, desc string, target *string, choices ...string) error {
	if len(choices) == 0 {
		return fmt.Errorf("%w: --%s has no choices", ErrBadFlag, long)
	}
	if err := r.RegisterFlag(long, short, def, desc, target); err != nil {
		return err
	}
	r.flags[len(r.flags)-1].choices = choices
	return nil
}

func registerFlagVar[T any](short, long string, target *T, defVal interface{}, desc string, regFn func(*T, string, T, string)) error {
	d, ok := defVal.(T)
	if !ok {
		return fmt.Errorf("%w: type mismatch for --%s: expected %T, got %T", ErrBadFlag, long, *target, defVal)
	}
	if short != "" {
		regFn(target, short, d, desc)
	}
	if long != "" {
		regFn(target, long, d, desc)
	}
	return nil
}

func (r *FlagRegistry) Register() error {
	for _, f := range r.flags {
		var err error
		switch ptr := f.target.(type) {
		case *string:
			err = registerFlagVar(f.short, f.long, ptr, f.defaultVal, f.description, r.fs.StringVar)
		case *bool:
			err = registerFlagVar(f.short, f.long, ptr, f.defaultVal, f.description, r.fs.BoolVar)
		case *int:
			err = registerFlagVar(f.short, f.long, ptr, f.defaultVal, f.description, r.fs.IntVar)
		case *float64:
			err = registerFlagVar(f.short, f.long, ptr, f.defaultVal, f.description, r.fs.Float64Var)
		case *int64:
			err = registerFlagVar(f.short, f.long, ptr, f.defaultVal, f.description, r.fs.Int64Var)
		case *uint64:
			err = registerFlagVar(f.short, f.long, ptr, f.defaultVal, f.description, r.fs.Uint64Var)
		case *time.Duration:
			err = registerFlagVar(f.short, f.long, ptr, f.defaultVal, f.description, r.fs.DurationVar)
		default:
			err = fmt.Errorf("%w: unsupported type for --%s (%T)", ErrBadFlag, f.long, f.target)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Usage lists the flags sorted by name with their defaults and, for choice
// flags, the accepted values.
func (r *FlagRegistry) Usage() string {
	type entry struct{ key, names, help string }
	entries := make([]entry, 0, len(r.flags))
	width := 0
	for _, f := range r.flags {
		var names []string
		if f.short != "" {
			names = append(names, "-"+f.short)
		}
		if f.long != "" {
			names = append(names, "--"+f.long)
		}
		e := entry{key: f.long, names: strings.Join(names, ", "), help: f.description}
		if e.key == "" {
			e.key = f.short
		}
		if len(f.choices) > 0 {
			e.help += " {" + strings.Join(f.choices, "|") + "}"
		}
		if s, ok := f.defaultVal.(string); !ok || s != "" {
			e.help += fmt.Sprintf(" (default: %v)", f.defaultVal)
		}
		width = max(width, len(e.names))
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].key < entries[j].key
	})

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Usage: %s [OPTIONS]\n\nOptions:\n", r.program)
	for _, e := range entries {
		fmt.Fprintf(&buf, "  %-*s  %s\n", width, e.names, e.help)
	}
	return buf.String()
}

func (r *FlagRegistry) longFor(short string) string {
	for _, f := range r.flags {
		if f.short == short {
			return f.long
		}
	}
	return ""
}

func (r *FlagRegistry) validateFlagFormat(args []string) error {
	for _, arg := range args {
		if arg == "--" {
			return nil
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			continue
		}
		if _, err := strconv.ParseFloat(arg, 64); err == nil {
			continue
		}
		if strings.HasPrefix(arg, "--") {
			name := strings.TrimPrefix(arg, "--")
			if eq := strings.Index(name, "="); eq > 0 {
				name = name[:eq]
			}
			if _, ok := r.validLongs[name]; ok {
				continue
			}
			if len(name) == 1 {
				if long := r.longFor(name); long != "" {
					return fmt.Errorf("%w: --%s (Expected '--%s')", ErrUnknownFlag, name, long)
				}
			}
			return fmt.Errorf("%w: --%s", ErrUnknownFlag, name)
		}
		trimmed := strings.TrimPrefix(arg, "-")
		if eq := strings.Index(trimmed, "="); eq > 0 {
			trimmed = trimmed[:eq]
		}
		if len(trimmed) == 1 {
			if _, ok := r.validShorts[trimmed]; !ok && trimmed != "h" {
				return fmt.Errorf("%w: -%s", ErrUnknownFlag, trimmed)
			}
			continue
		}
		if _, inLong := r.validLongs[trimmed]; inLong {
			return fmt.Errorf("%w: -%s (Expected '--%s')", ErrUnknownFlag, trimmed, trimmed)
		}
		if long := r.longFor(string(trimmed[0])); long != "" {
			return fmt.Errorf("%w: -%s (Expected '--%s')", ErrUnknownFlag, trimmed, long)
		}
		return fmt.Errorf("%w: -%s", ErrUnknownFlag, trimmed)
	}
	return nil
}

func (r *FlagRegistry) validateNoConflict() error {
	visited := make(map[string]bool)
	r.fs.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})
	for _, f := range r.flags {
		if f.short != "" && f.long != "" && visited[f.short] && visited[f.long] {
			return fmt.Errorf("%w: -%s & --%s", ErrDuplicateFlag, f.short, f.long)
		}
	}
	return nil
}

func (r *FlagRegistry) validateChoices() error {
	for _, f := range r.flags {
		if len(f.choices) == 0 {
			continue
		}
		v := *f.target.(*string)
		if !slices.Contains(f.choices, v) {
			return fmt.Errorf("%w: --%s=%q (one of %s)", ErrBadFlag, f.long, v, strings.Join(f.choices, ", "))
		}
	}
	return nil
}
