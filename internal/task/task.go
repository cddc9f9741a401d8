// Package task defines the declarative unit of work: a target URL, a
// readiness condition, and a set of named field instructions interpreted by
// the extractor. Tasks are immutable once loaded and validated.
package task

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ReadyMode selects how the navigator decides a page is safe to read.
type ReadyMode string

const (
	// ReadyDelay waits a fixed delay after the navigation commits.
	ReadyDelay ReadyMode = "delay"
	// ReadyDOM waits for the document body to be ready.
	ReadyDOM ReadyMode = "dom"
	// ReadySelector waits until a CSS selector becomes visible.
	ReadySelector ReadyMode = "selector"
)

// FieldMode selects how a matched element is read into a value.
type FieldMode string

const (
	ModeText FieldMode = "text"
	ModeAttr FieldMode = "attr"
	ModeHTML FieldMode = "html"
)

// FieldType selects the value type a field is coerced to.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
)

// Duration wraps time.Duration so YAML files can use "30s" / "1m" strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Readiness is the bounded wait condition applied after navigation.
type Readiness struct {
	Mode     ReadyMode `yaml:"mode"`
	Selector string    `yaml:"selector,omitempty"`
	Delay    Duration  `yaml:"delay,omitempty"`
	Timeout  Duration  `yaml:"timeout,omitempty"`
}

// Field is one named extraction instruction. Selector is a CSS selector
// resolved against the loaded document; Mode picks text content, an
// attribute, or inner HTML. Required fields fail the whole extraction when
// absent; optional fields yield no value.
type Field struct {
	Name     string    `yaml:"name"`
	Selector string    `yaml:"selector"`
	Mode     FieldMode `yaml:"mode,omitempty"`
	Attr     string    `yaml:"attr,omitempty"`
	Type     FieldType `yaml:"type,omitempty"`
	Required bool      `yaml:"required,omitempty"`
	All      bool      `yaml:"all,omitempty"`
}

// Task is one unit of navigation + extraction work. Immutable after Load.
type Task struct {
	Name      string    `yaml:"name"`
	URL       string    `yaml:"url"`
	Readiness Readiness `yaml:"readiness"`
	Fields    []Field   `yaml:"fields"`
}

// Settings are run-level knobs carried in the task file header. Zero values
// mean "use the built-in default"; CLI flags override non-zero file values.
type Settings struct {
	Workers        int      `yaml:"workers,omitempty"`
	MaxAttempts    int      `yaml:"max_attempts,omitempty"`
	BaseDelay      Duration `yaml:"base_delay,omitempty"`
	MaxDelay       Duration `yaml:"max_delay,omitempty"`
	NavTimeout     Duration `yaml:"nav_timeout,omitempty"`
	StartupTimeout Duration `yaml:"startup_timeout,omitempty"`
	Deadline       Duration `yaml:"deadline,omitempty"`
	TaskDelay      Duration `yaml:"task_delay,omitempty"`
	TaskJitter     Duration `yaml:"task_jitter,omitempty"`
	Headless       *bool    `yaml:"headless,omitempty"`
	UserAgent      string   `yaml:"user_agent,omitempty"`
	WindowWidth    int      `yaml:"window_width,omitempty"`
	WindowHeight   int      `yaml:"window_height,omitempty"`
	ChromePath     string   `yaml:"chrome_path,omitempty"`
	ProxyURL       string   `yaml:"proxy_url,omitempty"`
}

// File is one parsed task file: run settings plus the ordered task list.
type File struct {
	Settings Settings `yaml:"settings"`
	Tasks    []Task   `yaml:"tasks"`
}
