package zone

import (
	"context"
	log "log/slog"
	"sync"

	"multizone/internal/device"
	"multizone/internal/talker"
	"multizone/pkg/protocol"
)

// Link is what the controller needs from the device connection.
type Link interface {
	Connect(ctx context.Context, port string) error
	Disconnect()
	Connected() bool
	State() device.State
	Port() string
	LastError() error
	Processing() bool
	SendProcessingCommand(enabled bool) error
}

const (
	ModeDevice     = "device"
	ModeArtificial = "artificial"
	ModeDisabled   = "disabled"

	msgArtificial = "Artificial mode - Random talker signals"
	msgDisabled   = "Talker monitoring disabled"
)

// Controller tracks the active zone and whether talker monitoring is on.
type Controller struct {
	link    Link
	talkers *talker.State

	mu         sync.Mutex
	active     Zone
	hasActive  bool
	processing bool
}

func NewController(link Link, talkers *talker.State) *Controller {
	return &Controller{link: link, talkers: talkers}
}

// ToggleActive makes z the active zone, or clears it if z already is.
func (c *Controller) ToggleActive(z Zone) error {
	if !z.Valid() {
		return ErrInvalidZone
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasActive && c.active == z {
		c.hasActive = false
		log.Info("Zone deactivated", "zone", z)
		return nil
	}

	c.active = z
	c.hasActive = true
	log.Info("Zone activated", "zone", z)
	return nil
}

func (c *Controller) ActiveZone() (Zone, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.hasActive
}

func (c *Controller) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// ToggleProcessing flips talker monitoring. With a device attached the flag
// only changes once the device took the command; otherwise the flip is
// local.
func (c *Controller) ToggleProcessing() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := !c.processing
	if !c.link.Connected() {
		c.processing = next
		log.Info("Artificial mode", "processing", next)
		return next, nil
	}

	if err := c.link.SendProcessingCommand(next); err != nil {
		return c.processing, err
	}

	c.processing = next
	log.Info("Processing changed on device", "processing", next)
	return next, nil
}

// TalkerStatus returns the per-zone talker flags, or false when monitoring
// is off.
func (c *Controller) TalkerStatus() (protocol.TalkerStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.talkerStatus()
}

func (c *Controller) talkerStatus() (protocol.TalkerStatus, bool) {
	if !c.processing {
		return protocol.TalkerStatus{}, false
	}
	return c.talkers.Current(c.link.Connected()), true
}

// Connect attaches the device. Once connected the device's processing state
// wins: an enabled artificial session is pushed to it, and whatever the
// device accepted becomes the controller's flag.
func (c *Controller) Connect(ctx context.Context, port string) error {
	if err := c.link.Connect(ctx, port); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// disconnected again before we got here
	if !c.link.Connected() {
		return nil
	}

	if c.processing {
		if err := c.link.SendProcessingCommand(true); err != nil {
			log.Warn("Failed to restore processing on device", "err", err)
		}
	}
	c.processing = c.link.Processing()
	return nil
}

// Disconnect detaches the device; the controller keeps its last flag and
// falls back to artificial signals.
func (c *Controller) Disconnect() {
	c.link.Disconnect()
	c.talkers.Store().Reset()
}

// Snapshot is a point-in-time view for presentation and the status bus.
type Snapshot struct {
	ActiveZone  string   `json:"active_zone,omitempty"`
	ActiveIndex *int     `json:"active_index,omitempty"`
	Processing  bool     `json:"processing"`
	Connection  string   `json:"connection"`
	Port        string   `json:"port,omitempty"`
	LastError   string   `json:"last_error,omitempty"`
	Mode        string   `json:"mode"`
	Talkers     []bool   `json:"talkers,omitempty"`
	Messages    []string `json:"messages,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.link.State()
	snap := Snapshot{
		Processing: c.processing,
		Connection: state.String(),
		Port:       c.link.Port(),
	}
	if err := c.link.LastError(); err != nil {
		snap.LastError = err.Error()
	}
	if c.hasActive {
		idx := int(c.active)
		snap.ActiveIndex = &idx
		snap.ActiveZone = c.active.String()
	}

	connected := state == device.StateConnected
	switch {
	case !c.processing:
		snap.Mode = ModeDisabled
		snap.Messages = append(snap.Messages, msgDisabled)
	case connected:
		snap.Mode = ModeDevice
	default:
		snap.Mode = ModeArtificial
		snap.Messages = append(snap.Messages, msgArtificial)
	}

	if ts, ok := c.talkerStatus(); ok {
		snap.Talkers = ts.Slice()
	}

	return snap
}
