/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	wsPath         = "/ws"
	peerParam      = "peer"
	sendBuffer     = 64
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

var (
	errChannelClosed = errors.New("channel closed")
	errChannelFull   = errors.New("send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsChannel is one websocket connection, with a read pump feeding
// ChannelEvents and a write pump draining send.
type wsChannel struct {
	conn *websocket.Conn
	peer string
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSChannel(conn *websocket.Conn, peer string) *wsChannel {
	conn.SetReadLimit(maxMessageSize)

	return &wsChannel{
		conn: conn,
		peer: peer,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsChannel) Peer() string { return c.peer }

func (c *wsChannel) Send(payload []byte) error {
	select {
	case <-c.done:
		return errChannelClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return errChannelClosed
	default:
		return errChannelFull
	}
}

func (c *wsChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})

	return err
}

func (c *wsChannel) readPump(events ChannelEvents) {
	var cause error

	defer func() {
		_ = c.Close()
		events.Closed(c, cause)
	}()

	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cause = err
			}

			return
		}

		if kind != websocket.TextMessage {
			continue
		}

		events.Received(c, payload)
	}
}

func (c *wsChannel) writePump() {
	defer c.conn.Close()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// wsNetwork is the production Network. Hosts serve /ws from an HTTP
// server; participants dial it, presenting their own identity as the
// peer query parameter.
type wsNetwork struct {
	cfg    *Config
	id     string
	routes func(mux *httprouter.Router)
	dialer *websocket.Dialer

	mu       sync.Mutex
	addr     string
	srv      *http.Server
	channels map[*wsChannel]struct{}
}

func newWSNetwork(cfg *Config, routes func(mux *httprouter.Router)) *wsNetwork {
	return &wsNetwork{
		cfg:    cfg,
		id:     newID(),
		routes: routes,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.connectTimeout,
		},
		channels: make(map[*wsChannel]struct{}),
	}
}

func (n *wsNetwork) Address() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.addr != "" {
		return n.addr
	}

	return n.id
}

func (n *wsNetwork) track(c *wsChannel) {
	n.mu.Lock()
	n.channels[c] = struct{}{}
	n.mu.Unlock()
}

func (n *wsNetwork) untrack(c *wsChannel) {
	n.mu.Lock()
	delete(n.channels, c)
	n.mu.Unlock()
}

func (n *wsNetwork) Listen(ctx context.Context, events ChannelEvents) (string, error) {
	n.mu.Lock()
	if n.srv != nil {
		addr := n.addr
		n.mu.Unlock()

		return addr, nil
	}
	n.mu.Unlock()

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(n.cfg.bind, strconv.Itoa(n.cfg.port)))
	if err != nil {
		return "", err
	}

	mux := httprouter.New()
	mux.GET(wsPath, n.serveWS(events))
	if n.routes != nil {
		n.routes(mux)
	}

	srv := &http.Server{
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadHeaderTimeout: timeout,
	}

	port := ln.Addr().(*net.TCPAddr).Port
	addr := (&url.URL{
		Scheme: n.cfg.wsScheme(),
		Host:   net.JoinHostPort(n.cfg.advertiseHost(), strconv.Itoa(port)),
		Path:   wsPath,
	}).String()

	n.mu.Lock()
	n.srv = srv
	n.addr = addr
	n.mu.Unlock()

	go func() {
		var err error
		if n.cfg.tlsCert != "" && n.cfg.tlsKey != "" {
			err = srv.ServeTLS(ln, n.cfg.tlsCert, n.cfg.tlsKey)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorf("%v", err)
		}
	}()

	logf(n.cfg, "SERVE: Listening on %s", ln.Addr())

	return addr, nil
}

func (n *wsNetwork) serveWS(events ChannelEvents) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		peer := r.URL.Query().Get(peerParam)
		if peer == "" {
			peer = realIP(r)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(n.cfg, "PEERS: Upgrade from %s failed: %v", realIP(r), err)

			return
		}

		c := newWSChannel(conn, peer)
		n.track(c)
		defer n.untrack(c)

		events.Opened(c)

		go c.writePump()
		c.readPump(events)
	}
}

func (n *wsNetwork) Dial(ctx context.Context, addr string, events ChannelEvents) (Channel, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported address scheme %q", u.Scheme)
	}

	q := u.Query()
	q.Set(peerParam, n.id)
	u.RawQuery = q.Encode()

	conn, resp, err := n.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	c := newWSChannel(conn, addr)
	n.track(c)

	events.Opened(c)

	go c.writePump()
	go func() {
		defer n.untrack(c)
		c.readPump(events)
	}()

	return c, nil
}

func (n *wsNetwork) Close() error {
	n.mu.Lock()
	srv := n.srv
	n.srv = nil
	n.addr = ""
	chans := make([]*wsChannel, 0, len(n.channels))
	for c := range n.channels {
		chans = append(chans, c)
	}
	n.mu.Unlock()

	for _, c := range chans {
		_ = c.Close()
	}

	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
