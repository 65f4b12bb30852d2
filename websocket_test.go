package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsTestConfig() *Config {
	return &Config{
		advertise:      "127.0.0.1",
		bind:           "127.0.0.1",
		connectTimeout: 2 * time.Second,
		metrics:        true,
		port:           0,
	}
}

// startWSHost runs a Host on a real loopback websocket listener and
// returns it along with the base HTTP URL of its server.
func startWSHost(t *testing.T) (*Host, *Event, string) {
	t.Helper()

	cfg := wsTestConfig()
	m := newMetrics()

	var h *Host
	network := newWSNetwork(cfg, func(mux *httprouter.Router) {
		hostRoutes(cfg, h, m)(mux)
	})
	h = NewHost(cfg, newPeerService(cfg, network, m), m, HostOptions{
		Shuffle: fixedOrders([]int{2, 0, 1}, []int{1, 2, 0}),
	})

	ev, err := h.Start(context.Background(), tastingEvent())
	require.NoError(t, err)
	t.Cleanup(h.End)

	base := strings.TrimSuffix(strings.Replace(ev.Address, "ws://", "http://", 1), wsPath)

	return h, ev, base
}

func joinWSParticipant(t *testing.T, addr, name string) *ParticipantClient {
	t.Helper()

	cfg := wsTestConfig()
	c := NewParticipantClient(cfg, newPeerService(cfg, newWSNetwork(cfg, nil), nil))

	require.NoError(t, c.Join(context.Background(), addr, name))
	t.Cleanup(c.Reset)

	require.Eventually(t, func() bool { return c.State().WineCount > 0 }, waitFor, tick)

	return c
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, body
}

func TestWebsocketSessionEndToEnd(t *testing.T) {
	h, ev, _ := startWSHost(t)

	assert.True(t, strings.HasPrefix(ev.Address, "ws://127.0.0.1:"), ev.Address)
	assert.True(t, strings.HasSuffix(ev.Address, wsPath), ev.Address)

	ana := joinWSParticipant(t, ev.Address, "Ana")
	ben := joinWSParticipant(t, ev.Address, "Ben")

	assert.Equal(t, []string{"A", "B", "C"}, ana.State().DisplayLabels)

	require.NoError(t, h.SetRound(StatusDisplayRound))
	require.Eventually(t, func() bool {
		return ana.State().CurrentRound == StatusDisplayRound && ben.State().CurrentRound == StatusDisplayRound
	}, waitFor, tick)

	require.NoError(t, ana.SubmitDisplay(map[string]int{"A": 2, "B": 0, "C": 1}))
	require.NoError(t, ben.SubmitBottle(map[string]int{"A": 1}))

	require.Eventually(t, func() bool {
		return len(hostParticipant(t, h, ana.State().ParticipantID).DisplayAnswers) == 3 &&
			len(hostParticipant(t, h, ben.State().ParticipantID).BottleAnswers) == 1
	}, waitFor, tick)

	board, err := h.CalculateResults()
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "Ana", board[0].Name)

	require.Eventually(t, func() bool {
		return ana.State().Results != nil && ben.State().Results != nil
	}, waitFor, tick)

	assert.Equal(t, 3, ana.State().Results.Points)
	assert.Equal(t, 1, ben.State().Results.Points)
	assert.Equal(t, StatusResults, ben.State().CurrentRound)
}

func TestWebsocketPeerIdentity(t *testing.T) {
	h, ev, _ := startWSHost(t)

	c := joinWSParticipant(t, ev.Address, "Ana")

	p := hostParticipant(t, h, c.State().ParticipantID)
	assert.Equal(t, c.peers.Address(), p.Address)
	assert.Equal(t, []string{c.peers.Address()}, h.peers.Peers())
	assert.Equal(t, []string{ev.Address}, c.peers.Peers())
}

func TestWebsocketParticipantDisconnect(t *testing.T) {
	h, ev, _ := startWSHost(t)

	c := joinWSParticipant(t, ev.Address, "Ana")
	id := c.State().ParticipantID

	c.Reset()

	require.Eventually(t, func() bool { return len(h.peers.Peers()) == 0 }, waitFor, tick)
	assert.Equal(t, "Ana", hostParticipant(t, h, id).Name)
}

func TestWebsocketHostEnd(t *testing.T) {
	h, ev, _ := startWSHost(t)

	c := joinWSParticipant(t, ev.Address, "Ana")

	h.End()

	require.Eventually(t, func() bool { return len(c.peers.Peers()) == 0 }, waitFor, tick)
	require.Eventually(t, func() bool { return !c.State().Connected }, waitFor, tick)

	err := c.Rejoin(context.Background())
	var joinErr *JoinError
	assert.ErrorAs(t, err, &joinErr)
}

func TestWebsocketDialRejectsBadAddress(t *testing.T) {
	n := newWSNetwork(wsTestConfig(), nil)

	_, err := n.Dial(context.Background(), "ftp://127.0.0.1/ws", nil)
	assert.Error(t, err)

	_, err = n.Dial(context.Background(), "://", nil)
	assert.Error(t, err)
}

func TestHostHTTPEndpoints(t *testing.T) {
	_, ev, base := startWSHost(t)

	resp, body := get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ok\n", string(body))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, body = get(t, base+"/version")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), releaseVersion)

	resp, body = get(t, base+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), ev.Address)

	resp, body = get(t, base+"/qr")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(string(body), "\x89PNG"))

	resp, body = get(t, base+"/event")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, ev.ID, snap.Event.ID)
	assert.Equal(t, StatusWaiting, snap.Event.Status)
	assert.Len(t, snap.Event.Wines, 3)
	assert.Empty(t, snap.Participants)

	resp, _ = get(t, base+"/debug/pprof/heap")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHostMetricsEndpoint(t *testing.T) {
	_, ev, base := startWSHost(t)

	joinWSParticipant(t, ev.Address, "Ana")

	want := []string{
		"blindtasting_participants 1",
		"blindtasting_open_channels 1",
		`blindtasting_messages_received_total{type="JOIN"} 1`,
		`blindtasting_messages_sent_total{type="EVENT_INFO"} 1`,
		"blindtasting_round 1",
	}

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}

		for _, line := range want {
			if !strings.Contains(string(body), line) {
				return false
			}
		}

		return true
	}, waitFor, 50*time.Millisecond)
}
