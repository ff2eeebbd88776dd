// Package device defines the station's hardware collaborators and console
// implementations used for development and simulation.
package device

import (
	"context"
	"strings"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
)

// Reader polls the credential reader. Poll never blocks for longer than a
// single read attempt; ok is false when no card answered.
type Reader interface {
	Poll(ctx context.Context) (scan types.Scan, ok bool, err error)
}

// Actuator switches machine power. Both calls are idempotent.
type Actuator interface {
	Energize(ctx context.Context) error
	Deenergize(ctx context.Context) error
}

// Attrs are rendering hints. Displays that cannot honour them ignore them.
type Attrs struct {
	Alert bool
}

// Display renders a few short lines. Rendering is best-effort.
type Display interface {
	Render(ctx context.Context, lines []string, attrs Attrs) error
}

// Character panel geometry.
const (
	PanelRows = 4
	PanelCols = 20
)

// FitLines trims lines to the panel: at most PanelRows lines of at most
// PanelCols runes each.
func FitLines(lines []string) []string {
	n := len(lines)
	if n > PanelRows {
		n = PanelRows
	}
	out := make([]string, 0, n)
	for _, l := range lines[:n] {
		l = strings.TrimRight(l, " ")
		if r := []rune(l); len(r) > PanelCols {
			l = string(r[:PanelCols])
		}
		out = append(out, l)
	}
	return out
}
