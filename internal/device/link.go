package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"multizone/pkg/protocol"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	DefaultBaud            = 9600
	DefaultIOTimeout       = time.Second
	DefaultOpenSettle      = 2 * time.Second
	DefaultUploadSettle    = 3 * time.Second
	DefaultResetSettle     = 500 * time.Millisecond
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultErrorBackoff    = time.Second
	DefaultJoinTimeout     = time.Second
	DefaultMaxReadFailures = 5

	maxLineLen = 256
)

var (
	errConnectInProgress = errors.New("connect already in progress")
	errConnectAborted    = errors.New("disconnected while connecting")
)

// StatusSink receives every talker status decoded from the device.
type StatusSink interface {
	Set(protocol.TalkerStatus)
}

type Config struct {
	Baud            int
	IOTimeout       time.Duration
	OpenSettle      time.Duration
	UploadSettle    time.Duration
	ResetSettle     time.Duration
	PollInterval    time.Duration
	ErrorBackoff    time.Duration
	JoinTimeout     time.Duration
	MaxReadFailures int

	Lister Lister
	Opener Opener
}

func DefaultConfig() Config {
	return Config{
		Baud:            DefaultBaud,
		IOTimeout:       DefaultIOTimeout,
		OpenSettle:      DefaultOpenSettle,
		UploadSettle:    DefaultUploadSettle,
		ResetSettle:     DefaultResetSettle,
		PollInterval:    DefaultPollInterval,
		ErrorBackoff:    DefaultErrorBackoff,
		JoinTimeout:     DefaultJoinTimeout,
		MaxReadFailures: DefaultMaxReadFailures,
		Lister:          ListSerialPorts,
		Opener:          OpenSerial,
	}
}

// Link owns the serial connection to the microcontroller and the status
// reader that runs while it is connected.
type Link struct {
	cfg  Config
	sink StatusSink
	prov Provisioner

	mu         sync.Mutex
	state      State
	port       string
	lastErr    error
	processing bool
	sess       *session
	onChange   func(from, to State)

	// set while a Connect is running
	cancel  context.CancelFunc
	pending chan struct{}
	aborted bool
}

// NewLink creates a disconnected link. A nil provisioner skips the firmware
// stage of Connect.
func NewLink(cfg Config, sink StatusSink, prov Provisioner) *Link {
	def := DefaultConfig()
	if cfg.Baud <= 0 {
		cfg.Baud = def.Baud
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = def.IOTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}
	if cfg.MaxReadFailures <= 0 {
		cfg.MaxReadFailures = def.MaxReadFailures
	}
	if cfg.Lister == nil {
		cfg.Lister = def.Lister
	}
	if cfg.Opener == nil {
		cfg.Opener = def.Opener
	}

	return &Link{
		cfg:   cfg,
		sink:  sink,
		prov:  prov,
		state: StateDisconnected,
	}
}

// OnStateChange registers a callback invoked after every state transition.
// It runs on the goroutine that caused the transition and must not block.
func (l *Link) OnStateChange(fn func(from, to State)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = fn
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) Connected() bool {
	return l.State() == StateConnected
}

// Port returns the port of the current or last connection.
func (l *Link) Port() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

// LastError returns the failure of the last connect attempt or the error
// that ended the last session, nil otherwise.
func (l *Link) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Processing returns the last processing flag the device accepted.
func (l *Link) Processing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processing
}

// DiscoverPort returns the first port that looks like the microcontroller.
func (l *Link) DiscoverPort() (string, bool) {
	ports, err := l.cfg.Lister()
	if err != nil {
		log.Error("Failed to list serial ports", "err", err)
		return "", false
	}
	return pickBoard(ports)
}

// Connect provisions the firmware, opens the port and performs the reset
// handshake. An empty port means auto-discovery. On failure the link is
// left disconnected and the returned *ConnectError names the failed stage.
func (l *Link) Connect(ctx context.Context, port string) error {
	l.mu.Lock()
	switch l.state {
	case StateConnected:
		l.mu.Unlock()
		return nil
	case StateConnecting:
		l.mu.Unlock()
		return errConnectInProgress
	}
	from := l.setState(StateConnecting)
	l.lastErr = nil
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pending := make(chan struct{})
	defer close(pending)
	l.cancel = cancel
	l.pending = pending
	l.aborted = false
	cb := l.onChange
	l.mu.Unlock()
	notify(cb, from, StateConnecting)

	s, name, err := l.establish(cctx, port)

	l.mu.Lock()
	l.cancel = nil
	l.pending = nil
	if l.aborted && err == nil {
		s.close()
		err = &ConnectError{Stage: ErrTransportOpen, Port: name, Err: errConnectAborted}
	}
	if err != nil {
		l.lastErr = err
		l.setState(StateFailed)
		l.setState(StateDisconnected)
		cb = l.onChange
		l.mu.Unlock()

		log.Error("Failed to connect", "port", name, "err", err)
		notify(cb, StateConnecting, StateFailed)
		notify(cb, StateFailed, StateDisconnected)
		return err
	}

	l.port = name
	l.sess = s
	l.processing = false
	if l.sink != nil {
		l.sink.Set(protocol.TalkerStatus{})
	}
	l.setState(StateConnected)
	cb = l.onChange
	go l.read(s)
	l.mu.Unlock()

	log.Info("Connected to device", "port", name, "baud", l.cfg.Baud)
	notify(cb, StateConnecting, StateConnected)
	return nil
}

// Disconnect stops the reader and closes the port. A Connect still in
// progress is cancelled and waited for. Safe to call at any time.
func (l *Link) Disconnect() {
	l.mu.Lock()
	if l.state == StateConnecting && l.pending != nil {
		cancel, pending := l.cancel, l.pending
		l.aborted = true
		l.mu.Unlock()

		log.Info("Cancelling connect in progress")
		cancel()
		<-pending
		l.mu.Lock()
	}
	s := l.sess
	l.sess = nil
	l.mu.Unlock()

	if s != nil {
		s.halt()
		select {
		case <-s.done:
		case <-time.After(l.cfg.JoinTimeout):
			log.Warn("Status reader did not stop in time", "timeout", l.cfg.JoinTimeout)
		}
		if err := s.close(); err != nil {
			log.Warn("Failed to close port", "err", err)
		}
		log.Info("Disconnected from device")
	}

	l.mu.Lock()
	from := l.setState(StateDisconnected)
	cb := l.onChange
	l.mu.Unlock()
	notify(cb, from, StateDisconnected)
}

// SendProcessingCommand asks the device to enable or disable processing.
// The mirrored flag changes only when the write succeeds.
func (l *Link) SendProcessingCommand(enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateConnected || l.sess == nil {
		return ErrNotConnected
	}

	cmd := protocol.EncodeProcessingCommand(enabled)
	if _, err := l.sess.port.Write(cmd); err != nil {
		log.Error("Failed to send processing command", "enabled", enabled, "err", err)
		return fmt.Errorf("%w: write %q: %w", ErrIO, bytes.TrimSpace(cmd), err)
	}

	l.processing = enabled
	log.Debug("Sent processing command", "enabled", enabled)
	return nil
}

func (l *Link) resolve(port string) (string, error) {
	ports, err := l.cfg.Lister()
	if err != nil {
		return port, &ConnectError{Stage: ErrPortNotFound, Port: port, Err: err}
	}

	if port != "" {
		if !hasPort(ports, port) {
			return port, &ConnectError{Stage: ErrPortNotFound, Port: port}
		}
		return port, nil
	}

	name, ok := pickBoard(ports)
	if !ok {
		return "", &ConnectError{Stage: ErrPortNotFound}
	}
	log.Info("Discovered device", "port", name)
	return name, nil
}

func (l *Link) establish(ctx context.Context, want string) (*session, string, error) {
	name, err := l.resolve(want)
	if err != nil {
		return nil, name, err
	}

	if l.prov != nil {
		log.Info("Building firmware")
		if err := l.prov.Build(ctx); err != nil {
			return nil, name, &ConnectError{Stage: ErrFirmwareBuild, Port: name, Err: err}
		}

		log.Info("Uploading firmware", "port", name)
		if err := l.prov.Upload(ctx, name); err != nil {
			return nil, name, &ConnectError{Stage: ErrFirmwareUpload, Port: name, Err: err}
		}

		if err := sleep(ctx, l.cfg.UploadSettle); err != nil {
			return nil, name, &ConnectError{Stage: ErrFirmwareUpload, Port: name, Err: err}
		}
	}

	p, err := l.cfg.Opener(name, l.cfg.Baud)
	if err != nil {
		return nil, name, &ConnectError{Stage: ErrTransportOpen, Port: name, Err: err}
	}

	fail := func(err error) (*session, string, error) {
		p.Close()
		return nil, name, &ConnectError{Stage: ErrTransportOpen, Port: name, Err: err}
	}

	if err := p.SetReadTimeout(l.cfg.IOTimeout); err != nil {
		return fail(err)
	}
	if err := sleep(ctx, l.cfg.OpenSettle); err != nil {
		return fail(err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		log.Warn("Failed to drain input", "port", name, "err", err)
	}

	l.handshake(ctx, p)

	if err := p.SetReadTimeout(l.cfg.PollInterval); err != nil {
		return fail(err)
	}

	return newSession(p), name, nil
}

// handshake sends RESET and reads one line for the acknowledgement. A
// missing acknowledgement is logged, not fatal.
func (l *Link) handshake(ctx context.Context, p Port) {
	if _, err := p.Write(protocol.EncodeReset()); err != nil {
		log.Warn("Failed to send reset", "err", err)
		return
	}

	line, err := readLine(p, l.cfg.IOTimeout)
	switch {
	case err != nil:
		log.Warn("Failed to read reset response", "err", err)
	case protocol.DecodeResetAck(line):
		log.Debug("Reset acknowledged")
	default:
		log.Warn("Unexpected reset response", "response", line)
	}

	if err := sleep(ctx, l.cfg.ResetSettle); err != nil {
		log.Warn("Reset settle interrupted", "err", err)
	}
}

func (l *Link) setState(to State) State {
	from := l.state
	l.state = to
	if from != to {
		log.Debug("Link state changed", "from", from, "to", to)
	}
	return from
}

func notify(cb func(from, to State), from, to State) {
	if cb != nil && from != to {
		cb(from, to)
	}
}

// readLine reads bytes until a newline or until timeout has passed.
func readLine(p Port, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	var line []byte
	b := make([]byte, 1)

	for time.Now().Before(deadline) {
		n, err := p.Read(b)
		if err != nil {
			return string(line), err
		}
		if n == 0 {
			continue
		}
		if b[0] == '\n' {
			return string(bytes.TrimSpace(line)), nil
		}
		if len(line) < maxLineLen {
			line = append(line, b[0])
		}
	}

	return string(bytes.TrimSpace(line)), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
