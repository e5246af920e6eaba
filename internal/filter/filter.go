// Package filter compiles port range expressions such as "80,443,8000-9000"
// and applies them to snapshots.
package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lu-zhengda/portscope/internal/port"
)

const (
	minPort = 1
	maxPort = 65535
)

// Range is an inclusive port range.
type Range struct {
	Min int
	Max int
}

// Contains reports whether p lies in the range.
func (r Range) Contains(p int) bool {
	return p >= r.Min && p <= r.Max
}

func (r Range) String() string {
	if r.Min == r.Max {
		return strconv.Itoa(r.Min)
	}
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// Spec is a set of ranges. An empty Spec matches every port.
type Spec []Range

// Active reports whether the spec restricts anything.
func (s Spec) Active() bool {
	return len(s) > 0
}

// Matches reports whether p is in at least one range.
func (s Spec) Matches(p int) bool {
	if len(s) == 0 {
		return true
	}
	for _, r := range s {
		if r.Contains(p) {
			return true
		}
	}
	return false
}

// String renders the spec in the same grammar Parse accepts.
func (s Spec) String() string {
	parts := make([]string, len(s))
	for i, r := range s {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

// TokenError describes a token Parse skipped.
type TokenError struct {
	Token  string
	Reason string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("invalid filter token %q: %s", e.Token, e.Reason)
}

// Parse compiles a comma-separated list of ports and min-max ranges.
// Invalid tokens are skipped; the returned Spec always holds every valid
// token, and the error (if any) joins a TokenError per skipped token.
// Empty or all-invalid input yields an empty Spec.
func Parse(text string) (Spec, error) {
	var (
		spec Spec
		errs []error
	)
	for _, tok := range strings.Split(text, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		r, err := parseToken(tok)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		spec = append(spec, r)
	}
	return spec, errors.Join(errs...)
}

// MustParse is like Parse but ignores skipped tokens.
func MustParse(text string) Spec {
	spec, _ := Parse(text)
	return spec
}

func parseToken(tok string) (Range, error) {
	lo, hi, isRange := strings.Cut(tok, "-")
	if !isRange {
		p, err := parsePort(tok)
		if err != nil {
			return Range{}, err
		}
		return Range{Min: p, Max: p}, nil
	}

	start, err := parsePort(strings.TrimSpace(lo))
	if err != nil {
		return Range{}, err
	}
	end, err := parsePort(strings.TrimSpace(hi))
	if err != nil {
		return Range{}, err
	}
	if start > end {
		return Range{}, &TokenError{Token: tok, Reason: "range start exceeds end"}
	}
	return Range{Min: start, Max: end}, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, &TokenError{Token: s, Reason: "not a number"}
	}
	if p < minPort || p > maxPort {
		return 0, &TokenError{Token: s, Reason: "port out of range 1-65535"}
	}
	return p, nil
}

// Apply returns the records whose port matches spec, preserving order.
// An empty spec returns records unchanged.
func Apply(spec Spec, records []port.Record) []port.Record {
	if !spec.Active() {
		return records
	}
	out := make([]port.Record, 0, len(records))
	for _, r := range records {
		if spec.Matches(r.Port) {
			out = append(out, r)
		}
	}
	return out
}
