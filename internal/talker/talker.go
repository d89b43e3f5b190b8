package talker

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"multizone/pkg/protocol"
)

// Store keeps the latest status reported by the device. Readers always see a
// whole snapshot.
type Store struct {
	v atomic.Pointer[protocol.TalkerStatus]
}

func NewStore() *Store {
	s := &Store{}
	s.Reset()
	return s
}

func (s *Store) Set(ts protocol.TalkerStatus) {
	s.v.Store(&ts)
}

func (s *Store) Load() protocol.TalkerStatus {
	return *s.v.Load()
}

func (s *Store) Reset() {
	s.Set(protocol.TalkerStatus{})
}

type Clock interface {
	Now() time.Time
}

type Rand interface {
	// Float64 returns a number in [0.0, 1.0).
	Float64() float64
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// NewRand returns a math/rand/v2 source seeded from the runtime.
func NewRand() Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

const (
	DefaultMinInterval = 2 * time.Second
	DefaultMaxInterval = 4 * time.Second
)

type GeneratorConfig struct {
	Clock       Clock
	Rand        Rand
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Generator produces the artificial talker signal shown when no device is
// attached. Each regeneration schedules the next one after an interval drawn
// uniformly from [MinInterval, MaxInterval).
type Generator struct {
	mu sync.Mutex

	clock Clock
	rnd   Rand
	min   time.Duration
	max   time.Duration

	status protocol.TalkerStatus
	last   time.Time
	due    time.Time
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Rand == nil {
		cfg.Rand = NewRand()
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}

	g := &Generator{
		clock: cfg.Clock,
		rnd:   cfg.Rand,
		min:   cfg.MinInterval,
		max:   cfg.MaxInterval,
	}
	g.schedule(g.clock.Now())

	return g
}

// Refresh regenerates the status if the current interval has elapsed and
// returns the value in effect.
func (g *Generator) Refresh() protocol.TalkerStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if !now.Before(g.due) {
		for i := range g.status {
			g.status[i] = g.rnd.Float64() < 0.5
		}
		g.schedule(now)
	}

	return g.status
}

// LastRegeneration reports when the status was last redrawn.
func (g *Generator) LastRegeneration() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// NextDue reports when the next regeneration becomes eligible.
func (g *Generator) NextDue() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.due
}

func (g *Generator) schedule(now time.Time) {
	span := float64(g.max - g.min)
	g.last = now
	g.due = now.Add(g.min + time.Duration(g.rnd.Float64()*span))
}

// State answers "is zone i talking" from either the device store or the
// artificial generator.
type State struct {
	store *Store
	gen   *Generator
}

func NewState(store *Store, gen *Generator) *State {
	return &State{store: store, gen: gen}
}

func (s *State) Current(connected bool) protocol.TalkerStatus {
	if connected {
		return s.store.Load()
	}
	return s.gen.Refresh()
}

func (s *State) Store() *Store {
	return s.store
}
