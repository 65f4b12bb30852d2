/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Session is the authoritative state of one running event.
type Session struct {
	Event        *Event
	Participants []*Participant
}

func (s *Session) participant(id string) *Participant {
	for _, p := range s.Participants {
		if p.ID == id {
			return p
		}
	}

	return nil
}

// Snapshot is a deep copy of a Session, safe to hand to renderers.
type Snapshot struct {
	Event        *Event        `json:"event"`
	Participants []Participant `json:"participants"`
}

type HostOptions struct {
	// Shuffle produces a permutation of [0..n). Defaults to randomOrder.
	Shuffle func(n int) []int

	// Now defaults to time.Now.
	Now func() time.Time
}

// Host owns at most one Session at a time and sequences its rounds.
type Host struct {
	cfg     *Config
	peers   *PeerService
	metrics *metrics
	shuffle func(n int) []int
	now     func() time.Time

	mu      sync.Mutex
	session *Session
}

func NewHost(cfg *Config, peers *PeerService, m *metrics, opts HostOptions) *Host {
	h := &Host{
		cfg:     cfg,
		peers:   peers,
		metrics: m,
		shuffle: opts.Shuffle,
		now:     opts.Now,
	}

	if h.shuffle == nil {
		h.shuffle = randomOrder
	}
	if h.now == nil {
		h.now = time.Now
	}

	return h
}

// Start binds the transport and opens a new session in the waiting state.
// Only one session may run at a time.
func (h *Host) Start(ctx context.Context, ec *EventConfig) (*Event, error) {
	h.mu.Lock()
	running := h.session != nil
	h.mu.Unlock()
	if running {
		return nil, ErrSessionRunning
	}

	addr, err := h.peers.Listen(ctx)
	if err != nil {
		return nil, err
	}

	n := len(ec.Wines)

	ev := &Event{
		ID:           newID(),
		Address:      addr,
		Wines:        append([]Wine(nil), ec.Wines...),
		DisplayOrder: h.shuffle(n),
		BottleOrder:  h.shuffle(n),
		PriceRanges:  append([]PriceRange(nil), ec.PriceRanges...),
		Status:       StatusWaiting,
		CreatedAt:    h.now(),
	}

	if len(ev.DisplayOrder) != n || len(ev.BottleOrder) != n {
		h.peers.Disconnect()

		return nil, fmt.Errorf("%w: station orders do not cover %d wines", errInvalidEvent, n)
	}

	h.mu.Lock()
	h.session = &Session{Event: ev}
	h.mu.Unlock()

	h.peers.OnMessage(h.handle)

	h.metrics.setRound(ev.Status)
	h.metrics.setParticipants(0)

	logf(h.cfg, "EVENT: Started %s with %d wines and %d price ranges", shortID(ev.ID), n, len(ev.PriceRanges))

	return ev.clone(), nil
}

// End tears the session down and releases the transport.
func (h *Host) End() {
	h.mu.Lock()
	s := h.session
	h.session = nil
	h.mu.Unlock()

	h.peers.Disconnect()

	if s != nil {
		logf(h.cfg, "EVENT: Ended %s", shortID(s.Event.ID))
	}
}

// SetRound moves the event to round and tells every connected
// participant. Any round may follow any other.
func (h *Host) SetRound(round Status) error {
	if !round.Valid() || round == StatusSetup {
		return fmt.Errorf("unknown round %q", round)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session == nil {
		return ErrNoSession
	}

	h.setRoundLocked(round)

	return nil
}

func (h *Host) setRoundLocked(round Status) {
	h.session.Event.Status = round
	h.metrics.setRound(round)

	h.peers.Broadcast(RoundChangeMessage{Round: round})

	logf(h.cfg, "ROUND: Event %s is now in %s", shortID(h.session.Event.ID), round)
}

// Advance moves to the next round in sequence and returns it.
func (h *Host) Advance() (Status, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session == nil {
		return "", ErrNoSession
	}

	next, ok := h.session.Event.Status.Next()
	if !ok {
		return h.session.Event.Status, ErrFinalRound
	}

	h.setRoundLocked(next)

	return next, nil
}

// CalculateResults scores the whole roster, records the scores and sends
// every participant the leaderboard plus their own entry. It always
// recomputes and resends.
func (h *Host) CalculateResults() ([]LeaderboardEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session == nil {
		return nil, ErrNoSession
	}

	s := h.session
	board := Leaderboard(s.Participants, s.Event)

	byID := make(map[string]Score, len(board))
	for _, e := range board {
		byID[e.ParticipantID] = e.Score
	}

	s.Event.Status = StatusResults
	h.metrics.setRound(StatusResults)

	for _, p := range s.Participants {
		score, ok := byID[p.ID]
		if !ok {
			continue
		}

		p.Points = score.Points
		p.DisplayCorrect = score.DisplayCorrect
		p.BottleCorrect = score.BottleCorrect
		p.PriceCorrect = score.PriceCorrect
		p.Scored = true

		h.peers.Send(p.Address, ResultsMessage{
			Leaderboard: board,
			YourScore:   score,
		})
	}

	h.metrics.resultsSent()

	logf(h.cfg, "SCORE: Results for %d participants sent", len(board))

	return board, nil
}

// Snapshot returns a copy of the current event and roster.
func (h *Host) Snapshot() (Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session == nil {
		return Snapshot{}, ErrNoSession
	}

	snap := Snapshot{
		Event:        h.session.Event.clone(),
		Participants: make([]Participant, 0, len(h.session.Participants)),
	}
	for _, p := range h.session.Participants {
		snap.Participants = append(snap.Participants, p.clone())
	}

	return snap, nil
}

func (h *Host) eventInfoLocked() EventInfoMessage {
	ev := h.session.Event
	n := len(ev.Wines)

	return EventInfoMessage{
		WineCount:     n,
		DisplayLabels: generateLabels(n),
		BottleLabels:  generateLabels(n),
		PriceRanges:   append([]PriceRange(nil), ev.PriceRanges...),
		CurrentRound:  ev.Status,
	}
}

func (h *Host) handle(peer string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session == nil {
		return
	}

	switch m := msg.(type) {
	case JoinMessage:
		h.handleJoinLocked(peer, m)
	case SubmitDisplayMessage:
		if p := h.submitterLocked(m.ParticipantID, m.Type()); p != nil {
			p.DisplayAnswers = copyOrderAnswers(m.Answers)
		}
	case SubmitBottleMessage:
		if p := h.submitterLocked(m.ParticipantID, m.Type()); p != nil {
			p.BottleAnswers = copyOrderAnswers(m.Answers)
		}
	case SubmitPriceMessage:
		if p := h.submitterLocked(m.ParticipantID, m.Type()); p != nil {
			p.PriceAnswers = copyPriceAnswers(m.Answers)
		}
	case EventInfoMessage, RoundChangeMessage, ResultsMessage:
		logf(h.cfg, "DROP: Host-only message %s from %s", m.Type(), peer)
	}
}

func (h *Host) handleJoinLocked(peer string, m JoinMessage) {
	s := h.session

	if m.ParticipantID == "" {
		logf(h.cfg, "DROP: JOIN without identity from %s", peer)
		h.peers.Send(peer, h.eventInfoLocked())

		return
	}

	// Replies go to the channel the JOIN arrived on; the self-reported
	// address is only a fallback when the network cannot name the sender.
	addr := peer
	if addr == "" {
		addr = m.PeerID
	}

	if p := s.participant(m.ParticipantID); p != nil {
		p.Address = addr
		logf(h.cfg, "PEERS: %q (%s) rejoined", p.Name, shortID(p.ID))
	} else {
		s.Participants = append(s.Participants, &Participant{
			ID:             m.ParticipantID,
			Name:           m.Name,
			Address:        addr,
			DisplayAnswers: map[string]int{},
			BottleAnswers:  map[string]int{},
			PriceAnswers:   map[int]string{},
			ConnectedAt:    h.now(),
		})
		h.metrics.setParticipants(len(s.Participants))
		logf(h.cfg, "PEERS: %q (%s) joined", m.Name, shortID(m.ParticipantID))
	}

	h.peers.Send(peer, h.eventInfoLocked())
}

func (h *Host) submitterLocked(id string, t MessageType) *Participant {
	p := h.session.participant(id)
	if p == nil {
		logf(h.cfg, "DROP: %s from unknown participant %s", t, shortID(id))

		return nil
	}

	logf(h.cfg, "EVENT: %s from %q during %s", t, p.Name, h.session.Event.Status)

	return p
}
