package main

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// memoryHub wires memoryNetworks together in-process. Each test gets its
// own hub, so addresses never leak between tests.
type memoryHub struct {
	mu        sync.Mutex
	listeners map[string]*memoryNetwork
	next      int
}

func newMemoryHub() *memoryHub {
	return &memoryHub{listeners: make(map[string]*memoryNetwork)}
}

func (h *memoryHub) network() *memoryNetwork {
	h.mu.Lock()
	h.next++
	id := fmt.Sprintf("mem-%d", h.next)
	h.mu.Unlock()

	return &memoryNetwork{
		hub:  h,
		id:   id,
		ends: make(map[*memoryEnd]struct{}),
	}
}

type memoryNetwork struct {
	hub *memoryHub
	id  string

	// listenErr makes Listen fail; silent makes dialers wait forever.
	listenErr error
	silent    bool

	mu     sync.Mutex
	events ChannelEvents
	ends   map[*memoryEnd]struct{}
}

func (n *memoryNetwork) Address() string { return n.id }

func (n *memoryNetwork) Listen(_ context.Context, events ChannelEvents) (string, error) {
	if n.listenErr != nil {
		return "", n.listenErr
	}

	n.mu.Lock()
	n.events = events
	n.mu.Unlock()

	n.hub.mu.Lock()
	n.hub.listeners[n.id] = n
	n.hub.mu.Unlock()

	return n.id, nil
}

func (n *memoryNetwork) Dial(ctx context.Context, addr string, events ChannelEvents) (Channel, error) {
	n.hub.mu.Lock()
	remote, ok := n.hub.listeners[addr]
	n.hub.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("memory network: no peer listening at %q", addr)
	}

	if remote.silent {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	remote.mu.Lock()
	remoteEvents := remote.events
	remote.mu.Unlock()

	local := newMemoryEnd(addr, events)
	far := newMemoryEnd(n.id, remoteEvents)
	local.other, far.other = far, local

	n.track(local)
	remote.track(far)

	remoteEvents.Opened(far)
	events.Opened(local)

	go far.pump(remote)
	go local.pump(n)

	return local, nil
}

func (n *memoryNetwork) track(e *memoryEnd) {
	n.mu.Lock()
	n.ends[e] = struct{}{}
	n.mu.Unlock()
}

func (n *memoryNetwork) untrack(e *memoryEnd) {
	n.mu.Lock()
	delete(n.ends, e)
	n.mu.Unlock()
}

func (n *memoryNetwork) Close() error {
	n.hub.mu.Lock()
	if n.hub.listeners[n.id] == n {
		delete(n.hub.listeners, n.id)
	}
	n.hub.mu.Unlock()

	n.mu.Lock()
	ends := make([]*memoryEnd, 0, len(n.ends))
	for e := range n.ends {
		ends = append(ends, e)
	}
	n.mu.Unlock()

	for _, e := range ends {
		_ = e.Close()
	}

	return nil
}

// memoryEnd is one side of an in-process channel.
type memoryEnd struct {
	peer   string
	events ChannelEvents
	inbox  chan []byte
	done   chan struct{}
	once   sync.Once
	other  *memoryEnd
}

func newMemoryEnd(peer string, events ChannelEvents) *memoryEnd {
	return &memoryEnd{
		peer:   peer,
		events: events,
		inbox:  make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

func (e *memoryEnd) Peer() string { return e.peer }

func (e *memoryEnd) Send(payload []byte) error {
	select {
	case <-e.done:
		return errChannelClosed
	case <-e.other.done:
		return errChannelClosed
	default:
	}

	select {
	case e.other.inbox <- payload:
		return nil
	default:
		return errChannelFull
	}
}

func (e *memoryEnd) Close() error {
	e.shutdown()
	e.other.shutdown()

	return nil
}

func (e *memoryEnd) shutdown() {
	e.once.Do(func() { close(e.done) })
}

func (e *memoryEnd) pump(n *memoryNetwork) {
	defer n.untrack(e)

	for {
		select {
		case payload := <-e.inbox:
			e.events.Received(e, payload)
		case <-e.done:
			e.events.Closed(e, nil)
			return
		}
	}
}

// Shared fixtures

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testConfig() *Config {
	return &Config{connectTimeout: 200 * time.Millisecond}
}

// tastingEvent is three wines priced 10, 25 and 60 with ranges
// €0-10, €10-30 and €30-999999.
func tastingEvent() *EventConfig {
	return &EventConfig{
		Wines: []Wine{
			{ID: "w0", Name: "Vinho Verde", Price: decimal.NewFromInt(10)},
			{ID: "w1", Name: "Rioja Crianza", Year: "2019", Price: decimal.NewFromInt(25)},
			{ID: "w2", Name: "Barolo", Year: "2016", Price: decimal.NewFromInt(60)},
		},
		PriceRanges: []PriceRange{
			{ID: "low", Label: "€0-10", Min: decimal.NewFromInt(0), Max: decimal.NewFromInt(10)},
			{ID: "mid", Label: "€10-30", Min: decimal.NewFromInt(10), Max: decimal.NewFromInt(30)},
			{ID: "high", Label: "€30-999999", Min: decimal.NewFromInt(30), Max: decimal.NewFromInt(999999)},
		},
	}
}

// fixedOrders hands out display first, then bottle, then display again.
func fixedOrders(display, bottle []int) func(n int) []int {
	var mu sync.Mutex
	calls := 0

	return func(int) []int {
		mu.Lock()
		defer mu.Unlock()

		calls++
		if calls%2 == 1 {
			return append([]int(nil), display...)
		}
		return append([]int(nil), bottle...)
	}
}

func startTestHost(t *testing.T, hub *memoryHub, shuffle func(int) []int) (*Host, *Event) {
	t.Helper()

	cfg := testConfig()
	h := NewHost(cfg, newPeerService(cfg, hub.network(), nil), nil, HostOptions{Shuffle: shuffle})

	ev, err := h.Start(context.Background(), tastingEvent())
	require.NoError(t, err)
	t.Cleanup(h.End)

	return h, ev
}

func joinTestParticipant(t *testing.T, hub *memoryHub, hostAddr, name string) *ParticipantClient {
	t.Helper()

	cfg := testConfig()
	c := NewParticipantClient(cfg, newPeerService(cfg, hub.network(), nil))

	require.NoError(t, c.Join(context.Background(), hostAddr, name))
	t.Cleanup(c.Reset)

	require.Eventually(t, func() bool {
		return c.State().WineCount > 0
	}, waitFor, tick, "participant never received EVENT_INFO")

	return c
}

func hostParticipant(t *testing.T, h *Host, id string) Participant {
	t.Helper()

	snap, err := h.Snapshot()
	require.NoError(t, err)

	for _, p := range snap.Participants {
		if p.ID == id {
			return p
		}
	}

	t.Fatalf("participant %s not in roster", id)

	return Participant{}
}
