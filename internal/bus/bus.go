package bus

import (
	"context"
	"encoding/json"
	log "log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"multizone/internal/zone"
)

const DefaultInterval = 500 * time.Millisecond

// Bus publishes controller snapshots to a websocket hub.
type Bus struct {
	url  string
	from string

	mu   sync.Mutex
	conn *websocket.Conn
}

type BusMessage struct {
	From   string         `json:"from"`
	Kind   string         `json:"kind"`
	Status *zone.Snapshot `json:"status,omitempty"`
}

func NewBus(wsURL, from string) (*Bus, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}

	b := &Bus{url: u.String(), from: from}
	if err := b.dial(); err != nil {
		return nil, err
	}

	log.Info("Connected to bus", "url", wsURL)
	return b, nil
}

func (b *Bus) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(b.url, nil)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn = conn
	b.mu.Unlock()
	return nil
}

func (b *Bus) Publish(snap zone.Snapshot) error {
	data, err := json.Marshal(&BusMessage{
		From:   b.from,
		Kind:   "status",
		Status: &snap,
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return b.conn.Close()
}

// Run publishes a snapshot every interval until ctx is done. A failed write
// triggers one redial per tick.
func (b *Bus) Run(ctx context.Context, interval time.Duration, source func() zone.Snapshot) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !healthy {
			if err := b.dial(); err != nil {
				log.Debug("Bus still unreachable", "url", b.url, "err", err)
				continue
			}
			log.Info("Reconnected to bus", "url", b.url)
			healthy = true
		}

		if err := b.Publish(source()); err != nil {
			log.Warn("Failed to publish status", "err", err)
			healthy = false
		}
	}
}
