// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat lets the operator send a prompt to a worker's agent
// through the agent bridge: a unix socket speaking length-free CBOR
// (one request item, one response item per connection).
//
// The client enforces one in-flight request per session. Requests run
// on their own goroutines with a hard deadline on the socket; the
// outcome is delivered through a callback so the dispatcher can fold
// it back into the event loop rather than block on it.
package chat

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/deckhand-project/deckhand/lib/clock"
	"github.com/deckhand-project/deckhand/lib/codec"
)

// ErrBusy is returned when a session already has a request in flight.
var ErrBusy = errors.New("chat: request already in flight for session")

// DefaultTimeout bounds a full request/response exchange. Agent
// replies involve a model round trip, so this is deliberately long.
const DefaultTimeout = 2 * time.Minute

// Request is the wire request sent to the agent bridge.
type Request struct {
	Action  string `cbor:"action"`
	Session string `cbor:"session"`
	Prompt  string `cbor:"prompt"`
}

// Response is the wire response from the agent bridge.
type Response struct {
	OK    bool   `cbor:"ok"`
	Text  string `cbor:"text,omitempty"`
	Error string `cbor:"error,omitempty"`
}

// Answer is the delivered outcome of one Ask. Exactly one of Text or
// Err is meaningful.
type Answer struct {
	Session string
	Prompt  string
	Text    string
	Elapsed time.Duration
	Err     error
}

// Client talks to the agent bridge socket.
type Client struct {
	// SocketPath is the bridge's unix socket.
	SocketPath string
	// Timeout bounds each exchange; DefaultTimeout when zero.
	Timeout time.Duration
	// Clock measures elapsed time; the real clock when nil.
	Clock clock.Clock

	mu       sync.Mutex
	inflight map[string]bool
}

// Ask sends a prompt to the agent behind a session. It returns ErrBusy
// immediately if that session already has a request in flight;
// otherwise it returns nil and later calls deliver exactly once, from
// a separate goroutine, with the answer or the failure.
func (c *Client) Ask(session, prompt string, deliver func(Answer)) error {
	c.mu.Lock()
	if c.inflight == nil {
		c.inflight = make(map[string]bool)
	}
	if c.inflight[session] {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, session)
	}
	c.inflight[session] = true
	c.mu.Unlock()

	go func() {
		clk := c.Clock
		if clk == nil {
			clk = clock.Real()
		}
		started := clk.Now()
		text, err := c.exchange(session, prompt)

		c.mu.Lock()
		delete(c.inflight, session)
		c.mu.Unlock()

		deliver(Answer{
			Session: session,
			Prompt:  prompt,
			Text:    text,
			Elapsed: clk.Now().Sub(started),
			Err:     err,
		})
	}()
	return nil
}

// InFlight reports whether a session has an outstanding request.
func (c *Client) InFlight(session string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[session]
}

// exchange performs one connect/send/receive cycle under the deadline.
func (c *Client) exchange(session, prompt string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	conn, err := net.DialTimeout("unix", c.SocketPath, timeout)
	if err != nil {
		return "", fmt.Errorf("dialing agent bridge: %w", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("setting bridge deadline: %w", err)
	}

	request := Request{Action: "prompt", Session: session, Prompt: prompt}
	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return "", fmt.Errorf("sending prompt to session %q: %w", session, err)
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		return "", fmt.Errorf("reading reply from session %q: %w", session, err)
	}
	if !response.OK {
		return "", fmt.Errorf("agent for session %q: %s", session, response.Error)
	}
	return response.Text, nil
}
