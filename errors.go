/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"time"
)

var (
	ErrConnectTimeout = errors.New("connection timeout")
	ErrNoSession      = errors.New("no event is running")
	ErrNotJoined      = errors.New("not joined to an event")
	ErrFinalRound     = errors.New("already showing results")
	ErrSessionRunning = errors.New("an event is already running")
)

// TransportInitError means no local endpoint could be allocated.
type TransportInitError struct {
	Err error
}

func (e *TransportInitError) Error() string {
	return "initialize transport: " + e.Err.Error()
}

func (e *TransportInitError) Unwrap() error { return e.Err }

// ConnectError is an explicit failure opening a channel to Addr.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// JoinError wraps whatever stopped a participant from reaching the host.
type JoinError struct {
	Host string
	Err  error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("could not join event at %s (make sure the host has started the event and you are on the same network): %v", e.Host, e.Err)
}

func (e *JoinError) Unwrap() error { return e.Err }

func logf(cfg *Config, format string, args ...any) {
	if cfg == nil || !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

// errorf is for failures in background goroutines, which are printed
// regardless of verbosity.
func errorf(format string, args ...any) {
	log.Printf("%s | ERROR: "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}
