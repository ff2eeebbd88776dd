package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/store"
	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
	"github.com/Tharunya07/EMEC-AMS/internal/device"
	"github.com/Tharunya07/EMEC-AMS/internal/errclass"
)

const (
	DefaultGracePeriod   = 300 * time.Second
	DefaultMissThreshold = 3

	// InterruptReads is how many consecutive polls a different card must
	// be seen on before it interrupts an active session.
	InterruptReads = 2

	shutdownDeenergizeAttempts = 3
)

// Decider is the access decision contract the session machine drives.
type Decider interface {
	Decide(ctx context.Context, scan types.Scan) (types.Decision, error)
}

type SessionStore interface {
	store.SessionStore
	store.SettingsStore
}

type SessionConfig struct {
	MachineID     string
	MachineName   string
	GracePeriod   time.Duration // fallback when the remote setting is absent
	MissThreshold int
}

// sessionState is everything the machine remembers between ticks.
type sessionState struct {
	state      types.SessionState
	session    types.UsageSession
	credential types.Credential
	deviceUID  string
	misses     int
	graceStart time.Time
	grace      time.Duration

	// foreignUID and foreignReads track a different card seen on the
	// reader while ACTIVE.
	foreignUID   string
	foreignReads int

	// heldUID suppresses re-deciding a refused card that is still resting
	// on the reader.
	heldUID string

	// powerOffOwed is set when a close committed but the actuator refused
	// to switch off.
	powerOffOwed bool
}

// SessionMachine owns the IDLE -> ACTIVE -> GRACE -> IDLE lifecycle of the
// station's single usage session. Actuator and session state move in
// lock-step: power is on only while a session row is open.
type SessionMachine struct {
	mu       sync.Mutex
	st       sessionState
	decider  Decider
	store    SessionStore
	actuator device.Actuator
	display  device.Display
	clock    clock.PassiveClock
	log      *zap.Logger
	cfg      SessionConfig
	screen   string
	newID    func() string
}

func NewSessionMachine(
	d Decider,
	s SessionStore,
	act device.Actuator,
	disp device.Display,
	cfg SessionConfig,
	clk clock.PassiveClock,
	log *zap.Logger,
) (*SessionMachine, error) {
	cfg.MachineID = strings.TrimSpace(cfg.MachineID)
	if cfg.MachineID == "" {
		return nil, ErrInvalidMachineID
	}
	if cfg.MachineName == "" {
		cfg.MachineName = cfg.MachineID
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.MissThreshold <= 0 {
		cfg.MissThreshold = DefaultMissThreshold
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &SessionMachine{
		st:       sessionState{state: types.StateIdle},
		decider:  d,
		store:    s,
		actuator: act,
		display:  disp,
		clock:    clk,
		log:      log.With(zap.String("component", "session")),
		cfg:      cfg,
		newID:    uuid.NewString,
	}, nil
}

// Recover runs once at boot, before the first Tick: power is switched off
// and any session left open by a crash is closed at the current time.
func (m *SessionMachine) Recover(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.actuator.Deenergize(ctx); err != nil {
		m.log.Warn("deenergize at boot failed", zap.Error(err))
		m.st.powerOffOwed = true
	}
	closed, err := m.store.CloseOpenSessions(ctx, m.cfg.MachineID, m.clock.Now().UTC())
	if err != nil {
		return errclass.Transient(err)
	}
	for _, s := range closed {
		m.log.Warn("closed session left open by previous run",
			zap.String("session_id", s.SessionID),
			zap.String("credential_id", s.CredentialID),
			zap.Int("duration_min", s.Duration))
	}
	m.st = sessionState{state: types.StateIdle, powerOffOwed: m.st.powerOffOwed}
	m.renderIdle(ctx)
	return nil
}

// Tick advances the machine by one poll. scan is nil, or has an empty
// DeviceUID, when the reader saw nothing. A returned error means the
// transition was not taken and will be retried on the next tick.
func (m *SessionMachine) Tick(ctx context.Context, scan *types.Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.powerOffOwed && m.st.state == types.StateIdle {
		if err := m.actuator.Deenergize(ctx); err != nil {
			m.log.Warn("deenergize retry failed", zap.Error(err))
		} else {
			m.st.powerOffOwed = false
		}
	}

	uid := ""
	if scan != nil {
		uid = strings.TrimSpace(scan.DeviceUID)
	}

	switch m.st.state {
	case types.StateActive:
		return m.tickActive(ctx, scan, uid)
	case types.StateGrace:
		return m.tickGrace(ctx, scan, uid)
	default:
		return m.tickIdle(ctx, scan, uid)
	}
}

func (m *SessionMachine) tickIdle(ctx context.Context, scan *types.Scan, uid string) error {
	if uid == "" {
		m.st.heldUID = ""
		m.renderIdle(ctx)
		return nil
	}
	if uid == m.st.heldUID {
		return nil
	}

	d, err := m.decider.Decide(ctx, types.Scan{DeviceUID: uid, CredentialID: scan.CredentialID})
	if err != nil {
		m.render(ctx, device.Attrs{Alert: true}, "Please wait", "Retrying...")
		return fmt.Errorf("decide: %w", err)
	}

	if !d.Allowed() {
		m.st.heldUID = uid
		m.renderRefusal(ctx, d)
		return nil
	}
	return m.open(ctx, uid, d.Credential)
}

func (m *SessionMachine) tickActive(ctx context.Context, scan *types.Scan, uid string) error {
	switch {
	case uid == m.st.deviceUID:
		m.st.misses = 0
		m.st.foreignUID, m.st.foreignReads = "", 0
		return nil
	case uid != "":
		if uid != m.st.foreignUID {
			m.st.foreignUID, m.st.foreignReads = uid, 0
		}
		m.st.foreignReads++
		if m.st.foreignReads >= InterruptReads {
			return m.interrupt(ctx, scan, uid)
		}
	default:
		m.st.foreignUID, m.st.foreignReads = "", 0
	}

	// A single foreign read counts as a miss.
	m.st.misses++
	if m.st.misses < m.cfg.MissThreshold {
		return nil
	}

	m.st.state = types.StateGrace
	m.st.graceStart = m.clock.Now()
	m.st.grace = m.gracePeriod(ctx)
	m.log.Info("card removed, grace started",
		zap.String("session_id", m.st.session.SessionID),
		zap.Duration("grace", m.st.grace))
	m.renderGrace(ctx)
	return nil
}

func (m *SessionMachine) tickGrace(ctx context.Context, scan *types.Scan, uid string) error {
	switch {
	case uid == m.st.deviceUID:
		m.st.state = types.StateActive
		m.st.misses = 0
		m.st.graceStart = time.Time{}
		m.log.Info("card returned, session resumed", zap.String("session_id", m.st.session.SessionID))
		m.renderActive(ctx)
		return nil
	case uid != "":
		return m.interrupt(ctx, scan, uid)
	}

	if m.clock.Since(m.st.graceStart) < m.st.grace {
		m.renderGrace(ctx)
		return nil
	}
	m.log.Info("grace expired", zap.String("session_id", m.st.session.SessionID))
	return m.close(ctx, "Session ended")
}

// interrupt force-closes the current session for a different card, then
// evaluates that card from IDLE.
func (m *SessionMachine) interrupt(ctx context.Context, scan *types.Scan, uid string) error {
	m.log.Warn("different card presented, closing session",
		zap.String("session_id", m.st.session.SessionID),
		zap.String("device_uid", uid))
	if err := m.close(ctx, "Session ended"); err != nil {
		return err
	}
	return m.tickIdle(ctx, scan, uid)
}

func (m *SessionMachine) open(ctx context.Context, uid string, cred types.Credential) error {
	now := m.clock.Now().UTC()
	s := types.UsageSession{
		SessionID:    m.newID(),
		CredentialID: cred.CredentialID,
		MachineID:    m.cfg.MachineID,
		StartTime:    now,
	}

	if err := m.store.OpenSession(ctx, s); err != nil {
		if errors.Is(err, errclass.InvariantViolation) {
			closed, cerr := m.store.CloseOpenSessions(ctx, m.cfg.MachineID, now)
			m.log.Error("open session already present, closed it",
				zap.Error(err),
				zap.Int("closed", len(closed)),
				zap.NamedError("close_error", cerr))
			return err
		}
		m.render(ctx, device.Attrs{Alert: true}, "Please wait", "Retrying...")
		return errclass.Transient(err)
	}

	if err := m.actuator.Energize(ctx); err != nil {
		// Keep DB and power in lock-step: undo the session.
		if _, cerr := m.store.CloseOpenSessions(ctx, m.cfg.MachineID, now); cerr != nil {
			m.log.Error("compensating close failed", zap.Error(cerr))
		}
		m.render(ctx, device.Attrs{Alert: true}, "Power fault", "Try again")
		return fmt.Errorf("energize: %w", err)
	}

	m.st = sessionState{
		state:      types.StateActive,
		session:    s,
		credential: cred,
		deviceUID:  uid,
	}
	m.log.Info("session opened",
		zap.String("session_id", s.SessionID),
		zap.String("credential_id", cred.CredentialID))
	m.renderActive(ctx)
	return nil
}

// close ends the open session. On a store failure the state is unchanged,
// power stays on, and the close is retried on the next tick.
func (m *SessionMachine) close(ctx context.Context, message string) error {
	closed, err := m.store.CloseOpenSessions(ctx, m.cfg.MachineID, m.clock.Now().UTC())
	if err != nil {
		return errclass.Transient(err)
	}

	owed := false
	if err := m.actuator.Deenergize(ctx); err != nil {
		m.log.Error("deenergize failed, will retry", zap.Error(err))
		owed = true
	}

	for _, s := range closed {
		m.log.Info("session closed",
			zap.String("session_id", s.SessionID),
			zap.Int("duration_min", s.Duration))
	}
	name := m.st.credential.Name()
	m.st = sessionState{state: types.StateIdle, powerOffOwed: owed}
	if name != "" {
		m.render(ctx, device.Attrs{}, m.cfg.MachineName, message, name)
	} else {
		m.render(ctx, device.Attrs{}, m.cfg.MachineName, message)
	}
	return nil
}

// Shutdown force-closes any open session exactly as grace expiry does.
func (m *SessionMachine) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.close(ctx, "Station stopped")
	if err == nil && !m.st.powerOffOwed {
		return nil
	}

	// Power must be off when the process exits.
	var derr error
	for i := 0; i < shutdownDeenergizeAttempts; i++ {
		if derr = m.actuator.Deenergize(ctx); derr == nil || ctx.Err() != nil {
			break
		}
	}
	if derr != nil {
		return errors.Join(err, fmt.Errorf("deenergize at shutdown: %w", derr))
	}
	m.st.powerOffOwed = false
	return err
}

// gracePeriod reads the remote-configured grace period, falling back to
// the configured default.
func (m *SessionMachine) gracePeriod(ctx context.Context) time.Duration {
	v, ok, err := m.store.Setting(ctx, SettingGracePeriod)
	if err != nil || !ok {
		return m.cfg.GracePeriod
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		m.log.Warn("grace period setting malformed, using default",
			zap.Error(errclass.ConfigMissing.WithMessagef("%s=%q", SettingGracePeriod, v)),
			zap.Duration("default", m.cfg.GracePeriod))
		return m.cfg.GracePeriod
	}
	return time.Duration(secs) * time.Second
}

// Snapshot returns a copy of the current state.
func (m *SessionMachine) Snapshot() types.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := types.SessionSnapshot{
		State:           m.st.state,
		ConsecutiveMiss: m.st.misses,
	}
	if m.st.state == types.StateIdle {
		return snap
	}
	start := m.st.session.StartTime
	snap.SessionID = m.st.session.SessionID
	snap.CredentialID = m.st.session.CredentialID
	snap.DisplayName = m.st.credential.Name()
	snap.StartedAt = &start
	if m.st.state == types.StateGrace {
		snap.GraceRemaining = m.graceRemaining().String()
	}
	return snap
}

func (m *SessionMachine) graceRemaining() time.Duration {
	left := m.st.grace - m.clock.Since(m.st.graceStart)
	if left < 0 {
		return 0
	}
	return left.Truncate(time.Second)
}

// Notice shows a station-level message, such as waiting for the network,
// until the next state change replaces it.
func (m *SessionMachine) Notice(ctx context.Context, lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.render(ctx, device.Attrs{Alert: true}, lines...)
}

func (m *SessionMachine) renderIdle(ctx context.Context) {
	m.render(ctx, device.Attrs{}, m.cfg.MachineName, "Ready", "Scan card to start")
}

func (m *SessionMachine) renderActive(ctx context.Context) {
	m.render(ctx, device.Attrs{}, m.st.credential.Name(), "In use",
		"Since "+m.st.session.StartTime.Local().Format("15:04"))
}

func (m *SessionMachine) renderGrace(ctx context.Context) {
	m.render(ctx, device.Attrs{Alert: true}, m.st.credential.Name(), "Card removed",
		fmt.Sprintf("%ds left", int(m.graceRemaining().Seconds())))
}

func (m *SessionMachine) renderRefusal(ctx context.Context, d types.Decision) {
	switch d.Outcome {
	case types.OutcomePending:
		m.render(ctx, device.Attrs{Alert: true}, "Access pending", "Request sent", "Awaiting approval")
	default:
		m.render(ctx, device.Attrs{Alert: true}, "Access denied", denyText(d.Reason))
	}
}

func denyText(reason string) string {
	switch reason {
	case types.ReasonOutsideHours:
		return "Outside lab hours"
	case types.ReasonMaintenance:
		return "Under maintenance"
	default:
		return reason
	}
}

// render pushes a screen unless it is already showing. Display failures are
// swallowed.
func (m *SessionMachine) render(ctx context.Context, attrs device.Attrs, lines ...string) {
	key := strings.Join(lines, "\n")
	if key == m.screen {
		return
	}
	m.screen = key
	if err := m.display.Render(ctx, device.FitLines(lines), attrs); err != nil {
		m.log.Debug("render failed", zap.Error(err))
	}
}
