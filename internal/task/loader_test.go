package task

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const validFile = `
settings:
  workers: 2
  max_attempts: 3
  base_delay: 500ms
  nav_timeout: 30s
tasks:
  - name: listing
    url: https://example.com/listings
    readiness:
      mode: selector
      selector: "div.item"
      timeout: 10s
    fields:
      - name: title
        selector: "h1"
        required: true
      - name: price
        selector: "span.price"
        type: number
      - name: link
        selector: "a.more"
        mode: attr
        attr: href
`

func TestParse_Valid(t *testing.T) {
	f, err := Parse([]byte(validFile))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Settings.Workers != 2 || f.Settings.MaxAttempts != 3 {
		t.Errorf("settings: got %+v", f.Settings)
	}
	if got, want := f.Settings.BaseDelay.Std(), 500*time.Millisecond; got != want {
		t.Errorf("base_delay = %v, want %v", got, want)
	}
	if len(f.Tasks) != 1 {
		t.Fatalf("tasks: got %d, want 1", len(f.Tasks))
	}
	want := Task{
		Name: "listing",
		URL:  "https://example.com/listings",
		Readiness: Readiness{
			Mode:     ReadySelector,
			Selector: "div.item",
			Timeout:  Duration(10 * time.Second),
		},
		Fields: []Field{
			{Name: "title", Selector: "h1", Required: true},
			{Name: "price", Selector: "span.price", Type: TypeNumber},
			{Name: "link", Selector: "a.more", Mode: ModeAttr, Attr: "href"},
		},
	}
	if diff := cmp.Diff(want, f.Tasks[0]); diff != "" {
		t.Errorf("task mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no tasks", "settings:\n  workers: 1\n"},
		{"empty task name", `
tasks:
  - url: https://example.com
    fields: [{name: a, selector: b}]
`},
		{"bad url", `
tasks:
  - name: t
    url: "not a url"
    fields: [{name: a, selector: b}]
`},
		{"bad scheme", `
tasks:
  - name: t
    url: ftp://example.com/x
    fields: [{name: a, selector: b}]
`},
		{"duplicate task names", `
tasks:
  - name: t
    url: https://example.com
    fields: [{name: a, selector: b}]
  - name: t
    url: https://example.com
    fields: [{name: a, selector: b}]
`},
		{"no fields", `
tasks:
  - name: t
    url: https://example.com
    fields: []
`},
		{"duplicate field names", `
tasks:
  - name: t
    url: https://example.com
    fields: [{name: a, selector: b}, {name: a, selector: c}]
`},
		{"empty selector", `
tasks:
  - name: t
    url: https://example.com
    fields: [{name: a, selector: ""}]
`},
		{"attr mode without attr", `
tasks:
  - name: t
    url: https://example.com
    fields: [{name: a, selector: b, mode: attr}]
`},
		{"attr without attr mode", `
tasks:
  - name: t
    url: https://example.com
    fields: [{name: a, selector: b, attr: href}]
`},
		{"unknown field mode", `
tasks:
  - name: t
    url: https://example.com
    fields: [{name: a, selector: b, mode: regex}]
`},
		{"unknown field type", `
tasks:
  - name: t
    url: https://example.com
    fields: [{name: a, selector: b, type: date}]
`},
		{"selector readiness without selector", `
tasks:
  - name: t
    url: https://example.com
    readiness: {mode: selector}
    fields: [{name: a, selector: b}]
`},
		{"delay readiness without delay", `
tasks:
  - name: t
    url: https://example.com
    readiness: {mode: delay}
    fields: [{name: a, selector: b}]
`},
		{"malformed field selector", `
tasks:
  - name: t
    url: https://example.com
    fields: [{name: title, selector: "h1[unclosed", required: true}]
`},
		{"malformed readiness selector", `
tasks:
  - name: t
    url: https://example.com
    readiness: {mode: selector, selector: "div..item"}
    fields: [{name: a, selector: b}]
`},
		{"unknown readiness mode", `
tasks:
  - name: t
    url: https://example.com
    readiness: {mode: eventually}
    fields: [{name: a, selector: b}]
`},
		{"unknown yaml key", `
tasks:
  - name: t
    url: https://example.com
    fields: [{name: a, selector: b, slector_typo: c}]
`},
		{"bad duration", `
settings:
  base_delay: soon
tasks:
  - name: t
    url: https://example.com
    fields: [{name: a, selector: b}]
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("Parse accepted invalid file")
			}
			if !errors.Is(err, ErrInvalidInstructions) {
				t.Errorf("error not classified as invalid instructions: %v", err)
			}
		})
	}
}

func TestLoad_FromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	if err := os.WriteFile(path, []byte(validFile), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Tasks[0].Name != "listing" {
		t.Errorf("task name = %q", f.Tasks[0].Name)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load of missing file should fail")
	}
}
