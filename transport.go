/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Channel is one open, reliable, ordered link to a remote peer.
type Channel interface {
	Peer() string
	Send(payload []byte) error
	Close() error
}

// ChannelEvents receives notifications from a Network. Received is called
// from one goroutine per channel, in arrival order for that channel.
type ChannelEvents interface {
	Opened(ch Channel)
	Received(ch Channel, payload []byte)
	Closed(ch Channel, err error)
}

// Network is the underlying peer-to-peer transport. Implementations must
// be reusable after Close.
type Network interface {
	// Listen binds a local endpoint and returns the address remote peers
	// dial to reach it.
	Listen(ctx context.Context, events ChannelEvents) (string, error)

	// Dial returns once a channel to addr is open, after Opened has fired.
	Dial(ctx context.Context, addr string, events ChannelEvents) (Channel, error)

	// Address is the identity remote peers know this endpoint by.
	Address() string

	// Close tears down every channel and releases the local endpoint.
	Close() error
}

// Handler is invoked once per inbound message.
type Handler func(peer string, msg Message)

// CloseHandler is invoked when the open channel to peer goes away.
type CloseHandler func(peer string)

// PeerService multiplexes a Network into per-peer sends, broadcasts and a
// single ordered stream of decoded inbound messages.
type PeerService struct {
	cfg     *Config
	net     Network
	metrics *metrics

	mu       sync.RWMutex
	channels map[string]Channel
	handlers []Handler
	closers  []CloseHandler

	// disconnected is set by Disconnect until the next Listen or Connect.
	// Channels opened in the meantime are closed on arrival.
	disconnected bool

	// dispatch serializes every handler invocation across all peers.
	dispatch sync.Mutex
}

func newPeerService(cfg *Config, network Network, m *metrics) *PeerService {
	return &PeerService{
		cfg:      cfg,
		net:      network,
		metrics:  m,
		channels: make(map[string]Channel),
	}
}

// Listen binds the local endpoint and returns its join address.
func (s *PeerService) Listen(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.disconnected = false
	s.mu.Unlock()

	addr, err := s.net.Listen(ctx, s)
	if err != nil {
		return "", &TransportInitError{Err: err}
	}

	logf(s.cfg, "PEERS: Listening as %s", addr)

	return addr, nil
}

// Connect opens a channel to addr, giving up after the configured connect
// timeout. It is a no-op if a channel to addr is already open.
func (s *PeerService) Connect(ctx context.Context, addr string) error {
	s.mu.Lock()
	_, already := s.channels[addr]
	s.disconnected = false
	s.mu.Unlock()
	if already {
		return nil
	}

	timeout := s.cfg.connectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startTime := time.Now()

	_, err := s.net.Dial(dialCtx, addr, s)
	switch {
	case err == nil:
	case errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return ErrConnectTimeout
	default:
		return &ConnectError{Addr: addr, Err: err}
	}

	logf(s.cfg, "PEERS: Connected to %s in %s", addr, time.Since(startTime).Round(time.Millisecond))

	return nil
}

// Send delivers msg to peer if a channel is open. Failures are logged and
// dropped; callers have no way to act on them.
func (s *PeerService) Send(peer string, msg Message) {
	s.mu.RLock()
	ch, ok := s.channels[peer]
	s.mu.RUnlock()

	if !ok {
		logf(s.cfg, "DROP: No open channel to %s for %s", peer, msg.Type())
		s.metrics.dropped("no_channel")

		return
	}

	s.write(ch, msg)
}

// Broadcast sends msg to every currently open channel.
func (s *PeerService) Broadcast(msg Message) {
	s.mu.RLock()
	chans := make([]Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		chans = append(chans, ch)
	}
	s.mu.RUnlock()

	for _, ch := range chans {
		s.write(ch, msg)
	}
}

func (s *PeerService) write(ch Channel, msg Message) {
	payload, err := Encode(msg)
	if err != nil {
		logf(s.cfg, "DROP: Encoding %s for %s: %v", msg.Type(), ch.Peer(), err)
		s.metrics.dropped("encode")

		return
	}

	if err := ch.Send(payload); err != nil {
		logf(s.cfg, "DROP: Sending %s to %s: %v", msg.Type(), ch.Peer(), err)
		s.metrics.dropped("send")

		return
	}

	s.metrics.sent(msg.Type())

	logf(s.cfg, "SEND: %s (%s) to %s", msg.Type(), formatSize(len(payload)), ch.Peer())
}

// OnMessage registers h. Handlers run in registration order.
func (s *PeerService) OnMessage(h Handler) {
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
}

// OnClose registers h to run, in registration order, whenever the current
// channel to a peer closes. Channels replaced by a reconnect do not count.
func (s *PeerService) OnClose(h CloseHandler) {
	s.mu.Lock()
	s.closers = append(s.closers, h)
	s.mu.Unlock()
}

// Peers returns the addresses of all open channels, sorted.
func (s *PeerService) Peers() []string {
	s.mu.RLock()
	peers := make([]string, 0, len(s.channels))
	for p := range s.channels {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	slices.Sort(peers)

	return peers
}

// Address is this endpoint's own transport address.
func (s *PeerService) Address() string {
	return s.net.Address()
}

// Disconnect closes all channels, forgets every handler and releases the
// local endpoint. Calling it again is harmless.
func (s *PeerService) Disconnect() {
	s.mu.Lock()
	chans := s.channels
	s.channels = make(map[string]Channel)
	s.handlers = nil
	s.closers = nil
	s.disconnected = true
	s.mu.Unlock()

	for _, ch := range chans {
		_ = ch.Close()
	}

	if err := s.net.Close(); err != nil {
		logf(s.cfg, "PEERS: Closing network: %v", err)
	}

	s.metrics.setChannels(0)
}

func (s *PeerService) Opened(ch Channel) {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		_ = ch.Close()

		logf(s.cfg, "PEERS: Refused channel from %s after disconnect", ch.Peer())

		return
	}

	old, replaced := s.channels[ch.Peer()]
	s.channels[ch.Peer()] = ch
	n := len(s.channels)
	s.mu.Unlock()

	if replaced && old != ch {
		_ = old.Close()
	}

	s.metrics.setChannels(n)

	logf(s.cfg, "PEERS: Channel open to %s", ch.Peer())
}

func (s *PeerService) Closed(ch Channel, err error) {
	s.mu.Lock()
	cur, ok := s.channels[ch.Peer()]
	current := ok && cur == ch
	if current {
		delete(s.channels, ch.Peer())
	}
	n := len(s.channels)
	closers := slices.Clone(s.closers)
	s.mu.Unlock()

	s.metrics.setChannels(n)

	if current && len(closers) > 0 {
		s.dispatch.Lock()
		for _, h := range closers {
			h(ch.Peer())
		}
		s.dispatch.Unlock()
	}

	if err != nil {
		logf(s.cfg, "PEERS: Channel to %s closed: %v", ch.Peer(), err)

		return
	}

	logf(s.cfg, "PEERS: Channel to %s closed", ch.Peer())
}

func (s *PeerService) Received(ch Channel, payload []byte) {
	msg, err := Decode(payload)
	if err != nil {
		logf(s.cfg, "DROP: Message from %s: %v", ch.Peer(), err)
		s.metrics.dropped("decode")

		return
	}

	s.metrics.received(msg.Type())

	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.RLock()
	handlers := slices.Clone(s.handlers)
	s.mu.RUnlock()

	for _, h := range handlers {
		h(ch.Peer(), msg)
	}
}

func formatSize(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d B", n)
	}

	size, units := float64(n)/1000, "kMGT"
	for i := 0; ; i++ {
		if size < 1000 || i == len(units)-1 {
			return fmt.Sprintf("%.1f %cB", size, units[i])
		}
		size /= 1000
	}
}
