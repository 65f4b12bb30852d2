package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
	qrSize  int           = 320
)

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func serveVersion(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = io.WriteString(w, "blindtasting v"+releaseVersion+"\n")
	}
}

func serveHealthCheck(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = io.WriteString(w, "Ok\n")
	}
}

// serveJoinCode shows the join address as plain text, for typing.
func serveJoinCode(cfg *Config, h *Host) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		snap, err := h.Snapshot()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		fmt.Fprintf(w, "Join this tasting with:\n\n  blindtasting join --name <you> %s\n", snap.Event.Address)
	}
}

// serveQR renders the join address as a PNG QR code.
func serveQR(cfg *Config, h *Host) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		snap, err := h.Snapshot()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		png, err := qrcode.Encode(snap.Event.Address, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)

		_, _ = w.Write(png)
	}
}

// serveSnapshot exposes the authoritative event and roster as JSON for
// whatever renders the host dashboard.
func serveSnapshot(cfg *Config, h *Host) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		snap, err := h.Snapshot()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		body, err := json.Marshal(snap)
		if err != nil {
			http.Error(w, "encoding failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		_, _ = w.Write(body)

		logf(cfg, "SERVE: Event snapshot (%s) to %s in %s",
			formatSize(len(body)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// hostRoutes registers everything the host serves beside the websocket.
func hostRoutes(cfg *Config, h *Host, m *metrics) func(mux *httprouter.Router) {
	return func(mux *httprouter.Router) {
		mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
			errorf("panic serving %s: %v", r.URL.Path, i)
			http.Error(w, "An error has occurred. Please try again.", http.StatusInternalServerError)
		}

		mux.GET("/", serveJoinCode(cfg, h))
		mux.GET("/qr", serveQR(cfg, h))
		mux.GET("/event", serveSnapshot(cfg, h))
		mux.GET("/healthz", serveHealthCheck(cfg))
		mux.GET("/version", serveVersion(cfg))

		if cfg.metrics && m != nil {
			mux.Handler("GET", "/metrics", m.handler())
		}

		if cfg.profile {
			registerProfileHandlers(mux)
		}
	}
}
