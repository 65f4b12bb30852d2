/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var errInvalidEvent = errors.New("invalid event")

// Status is the phase an event is in. The running state machine starts at
// StatusWaiting; StatusSetup only exists before an event is created.
type Status string

const (
	StatusSetup        Status = "setup"
	StatusWaiting      Status = "waiting"
	StatusDisplayRound Status = "displayRound"
	StatusBottleRound  Status = "bottleRound"
	StatusPriceRound   Status = "priceRound"
	StatusResults      Status = "results"
)

var statusOrder = []Status{
	StatusSetup,
	StatusWaiting,
	StatusDisplayRound,
	StatusBottleRound,
	StatusPriceRound,
	StatusResults,
}

// Ordinal returns the position of s in the round sequence, or -1.
func (s Status) Ordinal() int {
	for i, v := range statusOrder {
		if v == s {
			return i
		}
	}

	return -1
}

func (s Status) Valid() bool {
	return s.Ordinal() >= 0
}

// Next returns the status following s. StatusResults has no successor.
func (s Status) Next() (Status, bool) {
	i := s.Ordinal()
	if i < 0 || i == len(statusOrder)-1 {
		return s, false
	}

	return statusOrder[i+1], true
}

// ParseStatus accepts a status name, case-sensitively, or one of the short
// console aliases.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "display":
		return StatusDisplayRound, nil
	case "bottle":
		return StatusBottleRound, nil
	case "price":
		return StatusPriceRound, nil
	}

	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown round %q", s)
	}

	return st, nil
}

type Wine struct {
	ID    string          `json:"id" yaml:"id"`
	Name  string          `json:"name" yaml:"name"`
	Year  string          `json:"year,omitempty" yaml:"year"`
	Price decimal.Decimal `json:"price" yaml:"price"`
}

// PriceRange bounds are inclusive at both ends.
type PriceRange struct {
	ID    string          `json:"id" yaml:"id"`
	Label string          `json:"label" yaml:"label"`
	Min   decimal.Decimal `json:"min" yaml:"min"`
	Max   decimal.Decimal `json:"max" yaml:"max"`
}

func (r PriceRange) Contains(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(r.Min) && price.LessThanOrEqual(r.Max)
}

type Event struct {
	ID           string       `json:"id"`
	Address      string       `json:"address"`
	Wines        []Wine       `json:"wines"`
	DisplayOrder []int        `json:"displayOrder"`
	BottleOrder  []int        `json:"bottleOrder"`
	PriceRanges  []PriceRange `json:"priceRanges"`
	Status       Status       `json:"status"`
	CreatedAt    time.Time    `json:"createdAt"`
}

func (e *Event) clone() *Event {
	c := *e
	c.Wines = append([]Wine(nil), e.Wines...)
	c.DisplayOrder = append([]int(nil), e.DisplayOrder...)
	c.BottleOrder = append([]int(nil), e.BottleOrder...)
	c.PriceRanges = append([]PriceRange(nil), e.PriceRanges...)

	return &c
}

type Participant struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Address        string         `json:"peerId"`
	DisplayAnswers map[string]int `json:"displayAnswers"`
	BottleAnswers  map[string]int `json:"bottleAnswers"`
	PriceAnswers   map[int]string `json:"priceAnswers"`
	Points         int            `json:"points"`
	DisplayCorrect int            `json:"displayCorrect"`
	BottleCorrect  int            `json:"bottleCorrect"`
	PriceCorrect   int            `json:"priceCorrect"`
	Scored         bool           `json:"scored"`
	ConnectedAt    time.Time      `json:"connectedAt"`
}

func (p *Participant) clone() Participant {
	c := *p
	c.DisplayAnswers = copyOrderAnswers(p.DisplayAnswers)
	c.BottleAnswers = copyOrderAnswers(p.BottleAnswers)
	c.PriceAnswers = copyPriceAnswers(p.PriceAnswers)

	return c
}

func copyOrderAnswers(m map[string]int) map[string]int {
	c := make(map[string]int, len(m))
	for k, v := range m {
		c[k] = v
	}

	return c
}

func copyPriceAnswers(m map[int]string) map[int]string {
	c := make(map[int]string, len(m))
	for k, v := range m {
		c[k] = v
	}

	return c
}

// EventConfig is the on-disk event definition loaded by the host.
type EventConfig struct {
	Wines       []Wine       `yaml:"wines"`
	PriceRanges []PriceRange `yaml:"price_ranges"`
}

func loadEventConfig(path string) (*EventConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return parseEventConfig(data)
}

func parseEventConfig(data []byte) (*EventConfig, error) {
	var ec EventConfig
	if err := yaml.Unmarshal(data, &ec); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidEvent, err)
	}

	if err := ec.normalize(); err != nil {
		return nil, err
	}

	return &ec, nil
}

// normalize fills in missing identities and rejects configurations no
// event can be run from.
func (ec *EventConfig) normalize() error {
	if len(ec.Wines) == 0 {
		return fmt.Errorf("%w: at least one wine is required", errInvalidEvent)
	}
	if len(ec.PriceRanges) == 0 {
		return fmt.Errorf("%w: at least one price range is required", errInvalidEvent)
	}

	for i := range ec.Wines {
		w := &ec.Wines[i]
		if w.Price.IsNegative() {
			return fmt.Errorf("%w: wine %q has a negative price", errInvalidEvent, w.Name)
		}
		if w.ID == "" {
			w.ID = newID()
		}
		if w.Name == "" {
			w.Name = "Wine " + stationLabel(i)
		}
	}

	seen := make(map[string]bool, len(ec.PriceRanges))
	for i := range ec.PriceRanges {
		r := &ec.PriceRanges[i]
		if r.ID == "" {
			r.ID = newID()
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: duplicate price range id %q", errInvalidEvent, r.ID)
		}
		seen[r.ID] = true
		if r.Label == "" {
			r.Label = r.Min.String() + "-" + r.Max.String()
		}
	}

	return nil
}

// invertedRanges lists ranges that can never match a price.
func (ec *EventConfig) invertedRanges() []PriceRange {
	var inverted []PriceRange
	for _, r := range ec.PriceRanges {
		if r.Min.GreaterThan(r.Max) {
			inverted = append(inverted, r)
		}
	}

	return inverted
}
