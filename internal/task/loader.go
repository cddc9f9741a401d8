package task

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// ErrInvalidInstructions marks a task file that fails validation. Malformed
// instructions are rejected here, at load time, never mid-extraction.
var ErrInvalidInstructions = errors.New("invalid instructions")

// Load reads, parses, and validates a task file. Unknown YAML keys are
// rejected so a typo in an instruction name cannot silently drop a field.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates raw task file bytes.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse task file: %w: %w", ErrInvalidInstructions, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the whole file; the first violation wins.
func (f *File) Validate() error {
	if len(f.Tasks) == 0 {
		return fmt.Errorf("%w: task file has no tasks", ErrInvalidInstructions)
	}
	seen := make(map[string]bool, len(f.Tasks))
	for i := range f.Tasks {
		t := &f.Tasks[i]
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate task name %q", ErrInvalidInstructions, t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// Validate checks one task's instructions.
func (t *Task) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: task %q: %s", ErrInvalidInstructions, t.Name, fmt.Sprintf(format, args...))
	}
	if t.Name == "" {
		return fmt.Errorf("%w: task with empty name", ErrInvalidInstructions)
	}
	u, err := url.Parse(t.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fail("invalid url %q", t.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fail("unsupported url scheme %q", u.Scheme)
	}

	switch t.Readiness.Mode {
	case "", ReadyDOM:
	case ReadyDelay:
		if t.Readiness.Delay <= 0 {
			return fail("readiness mode %q requires a positive delay", ReadyDelay)
		}
	case ReadySelector:
		if t.Readiness.Selector == "" {
			return fail("readiness mode %q requires a selector", ReadySelector)
		}
		if _, err := cascadia.Compile(t.Readiness.Selector); err != nil {
			return fail("readiness selector %q: %v", t.Readiness.Selector, err)
		}
	default:
		return fail("unknown readiness mode %q", t.Readiness.Mode)
	}

	if len(t.Fields) == 0 {
		return fail("no fields")
	}
	names := make(map[string]bool, len(t.Fields))
	for i := range t.Fields {
		fld := &t.Fields[i]
		if fld.Name == "" {
			return fail("field %d has empty name", i)
		}
		if names[fld.Name] {
			return fail("duplicate field %q", fld.Name)
		}
		names[fld.Name] = true
		if fld.Selector == "" {
			return fail("field %q has empty selector", fld.Name)
		}
		// Compile now so a broken selector cannot surface later as a
		// match-nothing matcher and an apparent missing field.
		if _, err := cascadia.Compile(fld.Selector); err != nil {
			return fail("field %q selector %q: %v", fld.Name, fld.Selector, err)
		}
		switch fld.Mode {
		case "", ModeText, ModeHTML:
			if fld.Attr != "" {
				return fail("field %q sets attr without mode %q", fld.Name, ModeAttr)
			}
		case ModeAttr:
			if fld.Attr == "" {
				return fail("field %q mode %q requires attr", fld.Name, ModeAttr)
			}
		default:
			return fail("field %q has unknown mode %q", fld.Name, fld.Mode)
		}
		switch fld.Type {
		case "", TypeString, TypeNumber:
		default:
			return fail("field %q has unknown type %q", fld.Name, fld.Type)
		}
	}
	return nil
}
