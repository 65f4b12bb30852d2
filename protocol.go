/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the discriminant carried in every payload's "type" field.
type MessageType string

const (
	MsgJoin          MessageType = "JOIN"
	MsgSubmitDisplay MessageType = "SUBMIT_DISPLAY"
	MsgSubmitBottle  MessageType = "SUBMIT_BOTTLE"
	MsgSubmitPrice   MessageType = "SUBMIT_PRICE"
	MsgEventInfo     MessageType = "EVENT_INFO"
	MsgRoundChange   MessageType = "ROUND_CHANGE"
	MsgResults       MessageType = "RESULTS"
)

var ErrUnknownMessage = errors.New("unknown message type")

// Message is implemented by exactly the seven protocol variants.
type Message interface {
	Type() MessageType
}

// Messages sent by participants
type JoinMessage struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	PeerID        string `json:"peerId"`
}

type SubmitDisplayMessage struct {
	ParticipantID string         `json:"participantId"`
	Answers       map[string]int `json:"answers"`
}

type SubmitBottleMessage struct {
	ParticipantID string         `json:"participantId"`
	Answers       map[string]int `json:"answers"`
}

type SubmitPriceMessage struct {
	ParticipantID string         `json:"participantId"`
	Answers       map[int]string `json:"answers"`
}

// Messages sent by the host
type EventInfoMessage struct {
	WineCount     int          `json:"wineCount"`
	DisplayLabels []string     `json:"displayLabels"`
	BottleLabels  []string     `json:"bottleLabels"`
	PriceRanges   []PriceRange `json:"priceRanges"`
	CurrentRound  Status       `json:"currentRound"`
}

type RoundChangeMessage struct {
	Round Status `json:"round"`
}

type ResultsMessage struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	YourScore   Score              `json:"yourScore"`
}

func (JoinMessage) Type() MessageType          { return MsgJoin }
func (SubmitDisplayMessage) Type() MessageType { return MsgSubmitDisplay }
func (SubmitBottleMessage) Type() MessageType  { return MsgSubmitBottle }
func (SubmitPriceMessage) Type() MessageType   { return MsgSubmitPrice }
func (EventInfoMessage) Type() MessageType     { return MsgEventInfo }
func (RoundChangeMessage) Type() MessageType   { return MsgRoundChange }
func (ResultsMessage) Type() MessageType       { return MsgResults }

// newMessage returns a zero value of the variant named by t.
func newMessage(t MessageType) (Message, error) {
	switch t {
	case MsgJoin:
		return &JoinMessage{}, nil
	case MsgSubmitDisplay:
		return &SubmitDisplayMessage{}, nil
	case MsgSubmitBottle:
		return &SubmitBottleMessage{}, nil
	case MsgSubmitPrice:
		return &SubmitPriceMessage{}, nil
	case MsgEventInfo:
		return &EventInfoMessage{}, nil
	case MsgRoundChange:
		return &RoundChangeMessage{}, nil
	case MsgResults:
		return &ResultsMessage{}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, t)
}

type envelope struct {
	Type MessageType `json:"type"`
}

// Encode writes msg as a single JSON object with its tag in "type".
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	tag, err := json.Marshal(msg.Type())
	if err != nil {
		return nil, err
	}

	// body is always a JSON object, so the tag is spliced in as its first field.
	out := make([]byte, 0, len(body)+len(tag)+9)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)

	return out, nil
}

// Decode returns the variant named by the payload's "type" field, always
// as a value rather than a pointer.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	msg, err := newMessage(env.Type)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}

	switch m := msg.(type) {
	case *JoinMessage:
		return *m, nil
	case *SubmitDisplayMessage:
		return *m, nil
	case *SubmitBottleMessage:
		return *m, nil
	case *SubmitPriceMessage:
		return *m, nil
	case *EventInfoMessage:
		return *m, nil
	case *RoundChangeMessage:
		return *m, nil
	case *ResultsMessage:
		return *m, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
}
