package device

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// LogActuator logs power transitions instead of driving a relay.
type LogActuator struct {
	log *zap.Logger
	on  atomic.Bool
}

func NewLogActuator(log *zap.Logger) *LogActuator {
	return &LogActuator{log: log.With(zap.String("component", "actuator"))}
}

func (a *LogActuator) Energize(_ context.Context) error {
	if !a.on.Swap(true) {
		a.log.Info("power on")
	}
	return nil
}

func (a *LogActuator) Deenergize(_ context.Context) error {
	if a.on.Swap(false) {
		a.log.Info("power off")
	}
	return nil
}

// On reports the current relay state.
func (a *LogActuator) On() bool { return a.on.Load() }

// LogDisplay logs each rendered screen.
type LogDisplay struct {
	log  *zap.Logger
	mu   sync.Mutex
	last []string
}

func NewLogDisplay(log *zap.Logger) *LogDisplay {
	return &LogDisplay{log: log.With(zap.String("component", "display"))}
}

func (d *LogDisplay) Render(_ context.Context, lines []string, attrs Attrs) error {
	lines = FitLines(lines)

	d.mu.Lock()
	d.last = lines
	d.mu.Unlock()

	d.log.Info("render", zap.String("screen", strings.Join(lines, " | ")), zap.Bool("alert", attrs.Alert))
	return nil
}

// Lines returns the last rendered screen.
func (d *LogDisplay) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.last...)
}
