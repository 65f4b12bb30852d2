/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// generateLabels returns n station labels: A..Z, then AA, AB, and so on.
func generateLabels(n int) []string {
	if n <= 0 {
		return []string{}
	}

	labels := make([]string, n)
	for i := range labels {
		labels[i] = stationLabel(i)
	}

	return labels
}

func stationLabel(i int) string {
	var b []byte
	for i++; i > 0; i = (i - 1) / 26 {
		b = append([]byte{byte('A' + (i-1)%26)}, b...)
	}

	return string(b)
}

// labelIndex is the inverse of stationLabel. It returns -1 for anything
// that is not an upper-case station label.
func labelIndex(label string) int {
	if label == "" {
		return -1
	}

	n := 0
	for _, r := range label {
		if r < 'A' || r > 'Z' {
			return -1
		}
		n = n*26 + int(r-'A') + 1
	}

	return n - 1
}

// generateOrdinals returns "1st", "2nd", "3rd", "4th", ... for 1..n.
func generateOrdinals(n int) []string {
	if n <= 0 {
		return []string{}
	}

	ordinals := make([]string, n)
	for i := range ordinals {
		ordinals[i] = ordinal(i + 1)
	}

	return ordinals
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}

	return strconv.Itoa(n) + suffix
}

// randomOrder returns a uniformly random permutation of [0..n), using a
// Fisher-Yates shuffle driven by crypto/rand.
func randomOrder(n int) []int {
	if n <= 0 {
		return []int{}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	for i := n - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		k := int(j.Int64())
		order[i], order[k] = order[k], order[i]
	}

	return order
}

func newID() string {
	return uuid.NewString()
}

// shortID is used where a human has to read an identity back, e.g. log lines.
func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}

	return id
}
