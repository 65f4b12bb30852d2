/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

var errQuit = errors.New("quit")

// readLines feeds lines from r into a channel until EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	return lines
}

func RunHost(ctx context.Context, cfg *Config, in io.Reader, out io.Writer) error {
	ec, err := loadEventConfig(cfg.eventFile)
	if err != nil {
		return err
	}

	for _, r := range ec.invertedRanges() {
		fmt.Fprintf(out, "warning: price range %q has min above max and will never match\n", r.Label)
	}

	logf(cfg, "START: blindtasting v%s", releaseVersion)

	m := newMetrics()

	var h *Host
	network := newWSNetwork(cfg, func(mux *httprouter.Router) {
		hostRoutes(cfg, h, m)(mux)
	})
	h = NewHost(cfg, newPeerService(cfg, network, m), m, HostOptions{})

	ev, err := h.Start(ctx, ec)
	if err != nil {
		return err
	}
	defer h.End()

	fmt.Fprintf(out, "Tasting started with %d wines. Join code:\n\n  %s\n\n", len(ev.Wines), ev.Address)

	if cfg.qr {
		if q, err := qrcode.New(ev.Address, qrcode.Medium); err == nil {
			fmt.Fprintln(out, q.ToSmallString(false))
		}
	}

	console := &hostConsole{h: h, out: out}
	console.help()

	lines := readLines(in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			err := console.exec(line)
			switch {
			case errors.Is(err, errQuit):
				return nil
			case err != nil:
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

type hostConsole struct {
	h   *Host
	out io.Writer
}

func (c *hostConsole) help() {
	fmt.Fprintln(c.out, "Commands: status, roster, next, round <waiting|display|bottle|price|results>, results, stations, quit")
}

func (c *hostConsole) exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "help", "?":
		c.help()
	case "quit", "exit", "end":
		return errQuit
	case "status":
		snap, err := c.h.Snapshot()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Round: %s, %d participants, %d connected\n",
			snap.Event.Status, len(snap.Participants), len(c.h.peers.Peers()))
	case "roster":
		snap, err := c.h.Snapshot()
		if err != nil {
			return err
		}
		c.roster(snap)
	case "stations":
		snap, err := c.h.Snapshot()
		if err != nil {
			return err
		}
		c.stations(snap.Event)
	case "next":
		round, err := c.h.Advance()
		if err != nil {
			return err
		}
		if round == StatusResults {
			return c.results()
		}
		fmt.Fprintf(c.out, "Now in %s\n", round)
	case "round":
		if len(fields) != 2 {
			return errors.New("usage: round <waiting|display|bottle|price|results>")
		}
		round, err := ParseStatus(fields[1])
		if err != nil {
			return err
		}
		if err := c.h.SetRound(round); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Now in %s\n", round)
	case "results":
		return c.results()
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}

	return nil
}

func (c *hostConsole) results() error {
	board, err := c.h.CalculateResults()
	if err != nil {
		return err
	}

	printLeaderboard(c.out, board, "")

	return nil
}

func (c *hostConsole) roster(snap Snapshot) {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDISPLAY\tBOTTLE\tPRICE\tPOINTS")
	for _, p := range snap.Participants {
		points := "-"
		if p.Scored {
			points = strconv.Itoa(p.Points)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", p.Name,
			len(p.DisplayAnswers), len(p.BottleAnswers), len(p.PriceAnswers), points)
	}
	_ = tw.Flush()
}

// stations prints which wine sits behind each glass and bottle label.
func (c *hostConsole) stations(ev *Event) {
	labels := generateLabels(len(ev.Wines))

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tGLASS\tBOTTLE")
	for i, label := range labels {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", label,
			ev.Wines[ev.DisplayOrder[i]].Name, ev.Wines[ev.BottleOrder[i]].Name)
	}
	_ = tw.Flush()
}

func printLeaderboard(w io.Writer, board []LeaderboardEntry, self string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tPOINTS\tDISPLAY\tBOTTLE\tPRICE")
	for i, e := range board {
		name := e.Name
		if self != "" && e.ParticipantID == self {
			name += " (you)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\n", i+1, name,
			e.Points, e.DisplayCorrect, e.BottleCorrect, e.PriceCorrect)
	}
	_ = tw.Flush()
}

func RunParticipant(ctx context.Context, cfg *Config, hostAddress string, in io.Reader, out io.Writer) error {
	client := NewParticipantClient(cfg, newPeerService(cfg, newWSNetwork(cfg, nil), nil))

	if err := client.Join(ctx, hostAddress, cfg.name); err != nil {
		return err
	}
	defer client.Reset()

	console := &participantConsole{client: client, out: out}
	console.help()

	lines := readLines(in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Updates():
			console.render()
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			err := console.exec(ctx, line)
			switch {
			case errors.Is(err, errQuit):
				return nil
			case err != nil:
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

type participantConsole struct {
	client *ParticipantClient
	out    io.Writer
}

func (c *participantConsole) help() {
	fmt.Fprintln(c.out, "Commands: status, display A=2 B=1 ..., bottle A=1 B=2 ..., price 1=<range> 2=<range> ..., rejoin, quit")
	fmt.Fprintln(c.out, "Positions are the order you tasted the wines in, starting at 1.")
}

func (c *participantConsole) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "help", "?":
		c.help()
	case "quit", "exit":
		return errQuit
	case "status":
		c.render()
	case "rejoin":
		return c.client.Rejoin(ctx)
	case "display", "bottle":
		answers, err := parseStationAnswers(fields[1:])
		if err != nil {
			return err
		}
		if fields[0] == "display" {
			err = c.client.SubmitDisplay(answers)
		} else {
			err = c.client.SubmitBottle(answers)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Submitted %d %s answers\n", len(answers), fields[0])
	case "price":
		answers, err := parsePriceAnswers(fields[1:], c.client.State().PriceRanges)
		if err != nil {
			return err
		}
		if err := c.client.SubmitPrice(answers); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Submitted %d price answers\n", len(answers))
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}

	return nil
}

func (c *participantConsole) render() {
	s := c.client.State()

	fmt.Fprintf(c.out, "Round: %s\n", s.CurrentRound)

	switch s.CurrentRound {
	case StatusDisplayRound:
		fmt.Fprintf(c.out, "Which position did you taste each glass in? Glasses: %s\n", strings.Join(s.DisplayLabels, " "))
	case StatusBottleRound:
		fmt.Fprintf(c.out, "Which position did you taste each bottle in? Bottles: %s\n", strings.Join(s.BottleLabels, " "))
	case StatusPriceRound:
		fmt.Fprintln(c.out, "What does each wine cost?")
		for i, r := range s.PriceRanges {
			fmt.Fprintf(c.out, "  %d) %s\n", i+1, r.Label)
		}
		fmt.Fprintf(c.out, "Wines: %s\n", strings.Join(generateOrdinals(s.WineCount), " "))
	case StatusResults:
		if s.Results == nil {
			fmt.Fprintln(c.out, "Waiting for results...")
			return
		}
		fmt.Fprintf(c.out, "You scored %d points (display %d, bottle %d, price %d)\n",
			s.Results.Points, s.Results.DisplayCorrect, s.Results.BottleCorrect, s.Results.PriceCorrect)
		printLeaderboard(c.out, s.Results.Leaderboard, s.ParticipantID)
	default:
		fmt.Fprintf(c.out, "Waiting for the host to start. %d wines tonight.\n", s.WineCount)
	}
}

// parsePosition accepts "2" or "2nd" and returns the 0-based tasting order.
func parsePosition(s string) (int, error) {
	s = strings.TrimRight(strings.ToLower(s), "stndrh")

	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid tasting position %q", s)
	}

	return n - 1, nil
}

func splitAnswer(field string) (string, string, error) {
	key, value, ok := strings.Cut(field, "=")
	if !ok || key == "" || value == "" {
		return "", "", fmt.Errorf("expected key=value, got %q", field)
	}

	return key, value, nil
}

func parseStationAnswers(fields []string) (map[string]int, error) {
	answers := make(map[string]int, len(fields))
	for _, f := range fields {
		label, value, err := splitAnswer(f)
		if err != nil {
			return nil, err
		}

		pos, err := parsePosition(value)
		if err != nil {
			return nil, err
		}

		answers[strings.ToUpper(label)] = pos
	}

	return answers, nil
}

// parsePriceAnswers maps "1=<range>" pairs to tasting order → range ID. A
// range may be given by ID, by label, or by its 1-based number in the list.
func parsePriceAnswers(fields []string, ranges []PriceRange) (map[int]string, error) {
	answers := make(map[int]string, len(fields))
	for _, f := range fields {
		key, value, err := splitAnswer(f)
		if err != nil {
			return nil, err
		}

		pos, err := parsePosition(key)
		if err != nil {
			return nil, err
		}

		id, ok := resolveRange(value, ranges)
		if !ok {
			return nil, fmt.Errorf("unknown price range %q", value)
		}

		answers[pos] = id
	}

	return answers, nil
}

func resolveRange(value string, ranges []PriceRange) (string, bool) {
	for _, r := range ranges {
		if r.ID == value || strings.EqualFold(r.Label, value) {
			return r.ID, true
		}
	}

	if n, err := strconv.Atoi(value); err == nil && n >= 1 && n <= len(ranges) {
		return ranges[n-1].ID, true
	}

	return "", false
}
