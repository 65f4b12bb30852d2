/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Results is what a participant learns once the host has scored the event.
type Results struct {
	Score
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// ParticipantState is the participant's read-only view of the event plus
// its own answers.
type ParticipantState struct {
	Connected     bool
	ParticipantID string
	Name          string
	HostAddress   string

	WineCount     int
	DisplayLabels []string
	BottleLabels  []string
	PriceRanges   []PriceRange
	CurrentRound  Status

	DisplayAnswers map[string]int
	BottleAnswers  map[string]int
	PriceAnswers   map[int]string

	Results *Results
}

func initialParticipantState() ParticipantState {
	return ParticipantState{
		ParticipantID:  newID(),
		DisplayLabels:  []string{},
		BottleLabels:   []string{},
		PriceRanges:    []PriceRange{},
		CurrentRound:   StatusWaiting,
		DisplayAnswers: map[string]int{},
		BottleAnswers:  map[string]int{},
		PriceAnswers:   map[int]string{},
	}
}

func (s ParticipantState) clone() ParticipantState {
	c := s
	c.DisplayLabels = slices.Clone(s.DisplayLabels)
	c.BottleLabels = slices.Clone(s.BottleLabels)
	c.PriceRanges = slices.Clone(s.PriceRanges)
	c.DisplayAnswers = maps.Clone(s.DisplayAnswers)
	c.BottleAnswers = maps.Clone(s.BottleAnswers)
	c.PriceAnswers = maps.Clone(s.PriceAnswers)
	if s.Results != nil {
		r := *s.Results
		r.Leaderboard = slices.Clone(s.Results.Leaderboard)
		c.Results = &r
	}

	return c
}

// ParticipantClient mirrors whatever the host sends and relays local
// answers back. It has no say over rounds or scores.
type ParticipantClient struct {
	cfg   *Config
	peers *PeerService

	mu    sync.Mutex
	state ParticipantState

	updates chan struct{}
}

func NewParticipantClient(cfg *Config, peers *PeerService) *ParticipantClient {
	return &ParticipantClient{
		cfg:     cfg,
		peers:   peers,
		state:   initialParticipantState(),
		updates: make(chan struct{}, 1),
	}
}

// Join connects to the host and announces this participant. The client is
// only marked connected once the channel is open.
func (c *ParticipantClient) Join(ctx context.Context, hostAddress, name string) error {
	c.mu.Lock()
	c.state.Connected = false
	c.mu.Unlock()

	// Drops any earlier channel and its handlers, live or not.
	c.peers.Disconnect()

	c.peers.OnMessage(c.handle)
	c.peers.OnClose(c.hostClosed)

	if err := c.peers.Connect(ctx, hostAddress); err != nil {
		c.peers.Disconnect()

		return &JoinError{Host: hostAddress, Err: err}
	}

	c.mu.Lock()
	c.state.Name = name
	c.state.HostAddress = hostAddress
	c.state.Connected = true
	join := JoinMessage{
		ParticipantID: c.state.ParticipantID,
		Name:          name,
		PeerID:        c.peers.Address(),
	}
	c.mu.Unlock()

	c.peers.Send(hostAddress, join)

	logf(c.cfg, "EVENT: Joined %s as %q (%s)", hostAddress, name, shortID(join.ParticipantID))

	return nil
}

// Rejoin reconnects to the last host under the same identity, so the host
// keeps this participant's roster entry and answers.
func (c *ParticipantClient) Rejoin(ctx context.Context) error {
	c.mu.Lock()
	host, name := c.state.HostAddress, c.state.Name
	c.mu.Unlock()

	if host == "" {
		return ErrNotJoined
	}

	return c.Join(ctx, host, name)
}

// Reset drops the connection and starts over with a fresh identity.
func (c *ParticipantClient) Reset() {
	c.peers.Disconnect()

	c.mu.Lock()
	c.state = initialParticipantState()
	c.mu.Unlock()

	c.notify()
}

func (c *ParticipantClient) SubmitDisplay(answers map[string]int) error {
	return c.submit(func(s *ParticipantState) Message {
		s.DisplayAnswers = maps.Clone(answers)
		return SubmitDisplayMessage{ParticipantID: s.ParticipantID, Answers: maps.Clone(answers)}
	})
}

func (c *ParticipantClient) SubmitBottle(answers map[string]int) error {
	return c.submit(func(s *ParticipantState) Message {
		s.BottleAnswers = maps.Clone(answers)
		return SubmitBottleMessage{ParticipantID: s.ParticipantID, Answers: maps.Clone(answers)}
	})
}

func (c *ParticipantClient) SubmitPrice(answers map[int]string) error {
	return c.submit(func(s *ParticipantState) Message {
		s.PriceAnswers = maps.Clone(answers)
		return SubmitPriceMessage{ParticipantID: s.ParticipantID, Answers: maps.Clone(answers)}
	})
}

func (c *ParticipantClient) submit(apply func(s *ParticipantState) Message) error {
	c.mu.Lock()
	if c.state.HostAddress == "" {
		c.mu.Unlock()

		return ErrNotJoined
	}

	host := c.state.HostAddress
	msg := apply(&c.state)
	c.mu.Unlock()

	c.peers.Send(host, msg)

	return nil
}

// State returns a copy of the local view.
func (c *ParticipantClient) State() ParticipantState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state.clone()
}

// Updates is signalled, coalesced, whenever a host message changed State.
func (c *ParticipantClient) Updates() <-chan struct{} {
	return c.updates
}

func (c *ParticipantClient) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// hostClosed marks the client disconnected when the channel to the host
// drops. The host address is kept so Rejoin can reconnect.
func (c *ParticipantClient) hostClosed(peer string) {
	c.mu.Lock()
	if peer != c.state.HostAddress || !c.state.Connected {
		c.mu.Unlock()
		return
	}
	c.state.Connected = false
	c.mu.Unlock()

	logf(c.cfg, "PEERS: Lost connection to host %s", peer)

	c.notify()
}

func (c *ParticipantClient) handle(peer string, msg Message) {
	c.mu.Lock()

	switch m := msg.(type) {
	case EventInfoMessage:
		c.state.WineCount = m.WineCount
		c.state.DisplayLabels = slices.Clone(m.DisplayLabels)
		c.state.BottleLabels = slices.Clone(m.BottleLabels)
		c.state.PriceRanges = slices.Clone(m.PriceRanges)
		c.state.CurrentRound = m.CurrentRound
	case RoundChangeMessage:
		c.state.CurrentRound = m.Round
	case ResultsMessage:
		c.state.Results = &Results{
			Score:       m.YourScore,
			Leaderboard: slices.Clone(m.Leaderboard),
		}
		c.state.CurrentRound = StatusResults
	default:
		c.mu.Unlock()
		logf(c.cfg, "DROP: Participant-only message %s from %s", msg.Type(), peer)

		return
	}

	round := c.state.CurrentRound
	c.mu.Unlock()

	logf(c.cfg, "ROUND: %s from host, now in %s", msg.Type(), round)

	c.notify()
}
