// Package challenge derives the acw_sc__v2 cookie from the vendor's
// anti-crawler page.
package challenge

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const (
	CookieName = "acw_sc__v2"

	markerCookie = "acw_sc__v2"
	markerArg    = "var arg1="

	defaultMask = "3000176000856006061501533003690027800375"
)

var defaultPositions = []int{
	15, 35, 29, 24, 33, 16, 1, 38, 10, 9, 19, 31, 40, 27,
	22, 23, 25, 13, 6, 11, 39, 18, 20, 8, 14, 21, 32, 26,
	2, 30, 7, 4, 17, 5, 3, 28, 34, 37, 12, 36,
}

var tokenPattern = regexp.MustCompile(`var arg1='([^']+)'`)

// IsChallenge reports whether body is the anti-crawler page rather than
// real content.
func IsChallenge(body string) bool {
	return strings.Contains(body, markerCookie) && strings.Contains(body, markerArg)
}

// Solver is stateless after construction and safe for concurrent use.
type Solver struct {
	mask      string
	positions []int
}

func NewSolver() *Solver {
	return &Solver{mask: defaultMask, positions: defaultPositions}
}

// NewSolverWith lets tests and future vendor revisions supply their own table.
func NewSolverWith(mask string, positions []int) (*Solver, error) {
	if len(mask)%2 != 0 {
		return nil, fmt.Errorf("mask length must be even, got %d", len(mask))
	}
	if _, err := hex.DecodeString(mask); err != nil {
		return nil, fmt.Errorf("mask is not hex: %w", err)
	}
	seen := make(map[int]bool, len(positions))
	for _, p := range positions {
		if p < 1 || p > len(positions) || seen[p] {
			return nil, fmt.Errorf("position table is not a permutation of 1..%d", len(positions))
		}
		seen[p] = true
	}
	return &Solver{mask: mask, positions: append([]int(nil), positions...)}, nil
}

// Solve returns the cookie value for a challenge page, or false when the
// token is missing or malformed.
func (s *Solver) Solve(body string) (string, bool) {
	m := tokenPattern.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	out, err := s.XOR(s.Reorder(m[1]))
	if err != nil {
		return "", false
	}
	return out, true
}

// Reorder places input character i into every slot j whose table entry is
// i+1, taking the first such slot.
func (s *Solver) Reorder(in string) string {
	out := make([]string, len(s.positions))
	for i, ch := range []rune(in) {
		for j, pos := range s.positions {
			if pos == i+1 {
				out[j] = string(ch)
				break
			}
		}
	}
	return strings.Join(out, "")
}

// Restore undoes Reorder for a full-length input.
func (s *Solver) Restore(in string) string {
	src := []rune(in)
	out := make([]rune, len(s.positions))
	for j, pos := range s.positions {
		if j < len(src) && pos-1 < len(out) {
			out[pos-1] = src[j]
		}
	}
	return string(out)
}

// XOR decodes in two hex characters at a time against the mask at the same
// offset and stops when either runs out.
func (s *Solver) XOR(in string) (string, error) {
	limit := min(len(in), len(s.mask))
	var b strings.Builder
	b.Grow(limit)
	for i := 0; i+1 < limit; i += 2 {
		x, err := hex.DecodeString(in[i : i+2])
		if err != nil {
			return "", fmt.Errorf("invalid hex at offset %d: %w", i, err)
		}
		k, err := hex.DecodeString(s.mask[i : i+2])
		if err != nil {
			return "", fmt.Errorf("invalid mask hex at offset %d: %w", i, err)
		}
		b.WriteString(hex.EncodeToString([]byte{x[0] ^ k[0]}))
	}
	return b.String(), nil
}
