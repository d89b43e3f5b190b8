package talker

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multizone/pkg/protocol"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(7, 11))
}

func TestStoreSnapshot(t *testing.T) {
	s := NewStore()
	assert.Equal(t, protocol.TalkerStatus{}, s.Load())

	s.Set(protocol.TalkerStatus{true, false, false, true})
	assert.Equal(t, protocol.TalkerStatus{true, false, false, true}, s.Load())

	s.Reset()
	assert.Equal(t, protocol.TalkerStatus{}, s.Load())
}

func TestGeneratorHoldsUntilDue(t *testing.T) {
	clk := newFakeClock()
	g := NewGenerator(GeneratorConfig{Clock: clk, Rand: seeded()})

	start := g.LastRegeneration()
	first := g.Refresh()

	clk.Advance(DefaultMinInterval - time.Millisecond)
	assert.Equal(t, first, g.Refresh())
	assert.Equal(t, start, g.LastRegeneration())
}

func TestGeneratorIntervalsWithinBounds(t *testing.T) {
	clk := newFakeClock()
	g := NewGenerator(GeneratorConfig{Clock: clk, Rand: seeded()})

	prev := g.LastRegeneration()
	for i := 0; i < 200; i++ {
		clk.Set(g.NextDue())
		g.Refresh()

		cur := g.LastRegeneration()
		gap := cur.Sub(prev)
		require.GreaterOrEqual(t, gap, 2*time.Second, "regeneration %d", i)
		require.Less(t, gap, 4*time.Second, "regeneration %d", i)
		prev = cur
	}
}

func TestGeneratorFineGrainedRefresh(t *testing.T) {
	const step = 10 * time.Millisecond

	clk := newFakeClock()
	g := NewGenerator(GeneratorConfig{Clock: clk, Rand: seeded()})

	prev := g.LastRegeneration()
	regenerations := 0
	for i := 0; i < 10000; i++ {
		clk.Advance(step)
		g.Refresh()

		if cur := g.LastRegeneration(); !cur.Equal(prev) {
			gap := cur.Sub(prev)
			assert.GreaterOrEqual(t, gap, 2*time.Second)
			assert.Less(t, gap, 4*time.Second+step)
			prev = cur
			regenerations++
		}
	}

	assert.Greater(t, regenerations, 20)
}

func TestGeneratorDeterministicWithSeed(t *testing.T) {
	run := func() []protocol.TalkerStatus {
		clk := newFakeClock()
		g := NewGenerator(GeneratorConfig{Clock: clk, Rand: seeded()})
		var out []protocol.TalkerStatus
		for i := 0; i < 20; i++ {
			clk.Set(g.NextDue())
			out = append(out, g.Refresh())
		}
		return out
	}

	assert.Equal(t, run(), run())
}

func TestStateCurrentPicksSource(t *testing.T) {
	clk := newFakeClock()
	store := NewStore()
	gen := NewGenerator(GeneratorConfig{Clock: clk, Rand: seeded()})
	st := NewState(store, gen)

	store.Set(protocol.TalkerStatus{true, false, false, true})
	assert.Equal(t, protocol.TalkerStatus{true, false, false, true}, st.Current(true))

	clk.Set(gen.NextDue())
	artificial := st.Current(false)
	assert.Equal(t, gen.Refresh(), artificial)
	assert.Equal(t, store, st.Store())
}
