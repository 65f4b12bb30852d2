/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Score is one participant's result for a single results calculation.
type Score struct {
	Points         int `json:"points"`
	DisplayCorrect int `json:"displayCorrect"`
	BottleCorrect  int `json:"bottleCorrect"`
	PriceCorrect   int `json:"priceCorrect"`
}

type LeaderboardEntry struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	Score
}

// PriceRangeFor returns the first range, in declaration order, containing
// price. A wine priced on the boundary of two ranges belongs to the first.
func PriceRangeFor(price decimal.Decimal, ranges []PriceRange) (string, bool) {
	for _, r := range ranges {
		if r.Contains(price) {
			return r.ID, true
		}
	}

	return "", false
}

// ScoreParticipant counts correct answers per round. Answers that refer to
// unknown labels or tasting positions are ignored.
func ScoreParticipant(p *Participant, ev *Event) Score {
	var s Score

	s.DisplayCorrect = countStationMatches(p.DisplayAnswers, ev.DisplayOrder)
	s.BottleCorrect = countStationMatches(p.BottleAnswers, ev.BottleOrder)

	for order, rangeID := range p.PriceAnswers {
		if order < 0 || order >= len(ev.DisplayOrder) {
			continue
		}

		wine := ev.DisplayOrder[order]
		if wine < 0 || wine >= len(ev.Wines) {
			continue
		}

		want, ok := PriceRangeFor(ev.Wines[wine].Price, ev.PriceRanges)
		if ok && want == rangeID {
			s.PriceCorrect++
		}
	}

	s.Points = s.DisplayCorrect + s.BottleCorrect + s.PriceCorrect

	return s
}

func countStationMatches(answers map[string]int, order []int) int {
	correct := 0
	for label, tasted := range answers {
		i := labelIndex(label)
		if i < 0 || i >= len(order) {
			continue
		}

		if order[i] == tasted {
			correct++
		}
	}

	return correct
}

// Leaderboard scores every participant and sorts by descending points.
// Participants with equal points keep their roster order.
func Leaderboard(participants []*Participant, ev *Event) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, LeaderboardEntry{
			ParticipantID: p.ID,
			Name:          p.Name,
			Score:         ScoreParticipant(p, ev),
		})
	}

	slices.SortStableFunc(entries, func(a, b LeaderboardEntry) int {
		return b.Points - a.Points
	})

	return entries
}
