package device

import (
	"bytes"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"multizone/pkg/protocol"
)

// session is one open connection and its reader goroutine.
type session struct {
	port Port
	stop chan struct{}
	done chan struct{}

	// mu fences sink writes against halt so nothing is published once
	// Disconnect has returned.
	mu      sync.Mutex
	stopped bool

	haltOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func newSession(p Port) *session {
	return &session{
		port: p,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (s *session) halt() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.haltOnce.Do(func() { close(s.stop) })
}

func (s *session) close() error {
	s.closeOnce.Do(func() { s.closeErr = s.port.Close() })
	return s.closeErr
}

func (s *session) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// wait sleeps for d and reports false if the session was stopped meanwhile.
func (s *session) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-s.stop:
		return false
	case <-t.C:
		return true
	}
}

func (s *session) publish(sink StatusSink, ts protocol.TalkerStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped && sink != nil {
		sink.Set(ts)
	}
}

// read drains the port line by line until the session stops or the port
// can no longer be read.
func (l *Link) read(s *session) {
	defer close(s.done)

	log.Debug("Status reader started")
	defer log.Debug("Status reader stopped")

	buf := make([]byte, 128)
	var pending []byte
	failures := 0

	for !s.stopping() {
		n, err := s.port.Read(buf)
		if err != nil {
			if s.stopping() {
				return
			}

			failures++
			if isClosed(err) || failures >= l.cfg.MaxReadFailures {
				log.Error("Giving up on device", "failures", failures, "err", err)
				l.readerExited(s, err)
				return
			}

			log.Warn("Failed to read from device", "attempt", failures, "err", err)
			if !s.wait(l.cfg.ErrorBackoff) {
				return
			}
			continue
		}
		failures = 0

		if n == 0 {
			if !s.wait(l.cfg.PollInterval) {
				return
			}
			continue
		}

		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			l.handleLine(s, string(pending[:i]))
			pending = pending[i+1:]
		}
		if len(pending) > maxLineLen {
			log.Debug("Dropping unterminated input", "bytes", len(pending))
			pending = pending[:0]
		}
	}
}

func (l *Link) handleLine(s *session, line string) {
	ts, ok := protocol.DecodeStatusLine(line)
	if !ok {
		log.Debug("Ignoring device line", "line", line)
		return
	}
	s.publish(l.sink, ts)
}

// readerExited tears the session down when the reader gives up on its own.
func (l *Link) readerExited(s *session, cause error) {
	l.mu.Lock()
	if l.sess != s {
		l.mu.Unlock()
		return
	}

	l.sess = nil
	l.lastErr = fmt.Errorf("%w: status reader: %w", ErrIO, cause)
	s.halt()
	if err := s.close(); err != nil {
		log.Warn("Failed to close port", "err", err)
	}
	from := l.setState(StateDisconnected)
	cb := l.onChange
	l.mu.Unlock()

	notify(cb, from, StateDisconnected)
}
