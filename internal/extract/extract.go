// Package extract reads named fields out of an already-loaded page into a
// structured record. Fields are resolved independently: a missing optional
// field is simply absent, a missing required field fails the extraction.
// Extraction has no side effects on the page.
package extract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"harvest/internal/navigate"
	"harvest/internal/task"
)

// ErrMissingRequiredField marks a required field whose selector matched
// nothing. Fatal for the task; retrying the same page cannot produce it.
var ErrMissingRequiredField = errors.New("missing required field")

// ErrPageNotReady guards the invariant that records are only built from
// pages whose readiness condition held.
var ErrPageNotReady = errors.New("page not ready")

// Record is the structured output of one successful extraction, plus
// provenance. Immutable once produced.
type Record struct {
	Task      string         `json:"task"`
	URL       string         `json:"url"`
	Fields    map[string]any `json:"fields"`
	FetchedAt time.Time      `json:"fetched_at"`
	Attempts  int            `json:"attempts,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
}

// Extract applies the task's field instructions against the page document.
// Instructions are assumed valid; task.Load rejects malformed ones before
// any navigation happens.
func Extract(ps *navigate.PageState, t task.Task) (*Record, error) {
	if ps == nil || !ps.Ready {
		return nil, ErrPageNotReady
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(ps.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	fields := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		val, ok, err := readField(doc, f)
		if err != nil {
			return nil, err
		}
		if !ok {
			if f.Required {
				return nil, fmt.Errorf("%w: %s", ErrMissingRequiredField, f.Name)
			}
			continue
		}
		fields[f.Name] = val
	}

	return &Record{
		Task:      t.Name,
		URL:       ps.URL,
		Fields:    fields,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// readField resolves one instruction. ok is false when the selector matched
// nothing, or when a scalar field produced an empty value.
func readField(doc *goquery.Document, f task.Field) (any, bool, error) {
	sel := doc.Find(f.Selector)
	if sel.Length() == 0 {
		return nil, false, nil
	}

	if f.All {
		vals := make([]any, 0, sel.Length())
		var readErr error
		sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v, ok, err := readOne(s, f)
			if err != nil {
				readErr = err
				return false
			}
			if ok {
				vals = append(vals, v)
			}
			return true
		})
		if readErr != nil {
			return nil, false, readErr
		}
		if len(vals) == 0 {
			return nil, false, nil
		}
		return vals, true, nil
	}

	return readOne(sel.First(), f)
}

func readOne(s *goquery.Selection, f task.Field) (any, bool, error) {
	var raw string
	switch f.Mode {
	case task.ModeAttr:
		var ok bool
		raw, ok = s.Attr(f.Attr)
		if !ok {
			return nil, false, nil
		}
	case task.ModeHTML:
		h, err := s.Html()
		if err != nil {
			return nil, false, fmt.Errorf("field %s: read html: %w", f.Name, err)
		}
		raw = h
	default:
		raw = s.Text()
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false, nil
	}

	if f.Type == task.TypeNumber {
		n, err := parseNumber(raw)
		if err != nil {
			return nil, false, nil // unparseable number counts as absent
		}
		return n, true, nil
	}
	return raw, true, nil
}

// parseNumber reads a float out of page text, tolerating currency symbols,
// thousands separators, and surrounding prose ("Opening Bid: $12,345.00").
func parseNumber(s string) (float64, error) {
	var b strings.Builder
	started := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			started = true
		case r == '.' && started:
			b.WriteRune(r)
		case r == '-' && !started && b.Len() == 0:
			b.WriteRune(r)
		case r == ',' || r == '$' || r == ' ' || r == ' ':
			// skip separators and currency marks
		default:
			if started {
				return strconv.ParseFloat(b.String(), 64)
			}
		}
	}
	if !started {
		return 0, fmt.Errorf("no digits in %q", s)
	}
	return strconv.ParseFloat(b.String(), 64)
}
