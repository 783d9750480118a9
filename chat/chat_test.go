// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

package chat_test

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deckhand-project/deckhand/chat"
	"github.com/deckhand-project/deckhand/lib/codec"
	"github.com/deckhand-project/deckhand/lib/testutil"
)

// startBridge runs a fake agent bridge on a unix socket. The handler
// receives each decoded request and returns the response to send; a
// nil response leaves the connection hanging (timeout testing).
func startBridge(t *testing.T, handler func(chat.Request) *chat.Response) string {
	t.Helper()
	// Unix socket paths have a ~100 byte limit; t.TempDir can exceed
	// it, so sockets go under a short /tmp directory instead.
	dir, err := os.MkdirTemp("/tmp", "dh-chat-")
	if err != nil {
		t.Fatalf("creating socket dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	socketPath := filepath.Join(dir, "bridge.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listening on %s: %v", socketPath, err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				var request chat.Request
				if err := codec.NewDecoder(conn).Decode(&request); err != nil {
					return
				}
				response := handler(request)
				if response == nil {
					// Hold the connection open until the client
					// gives up.
					time.Sleep(5 * time.Second)
					return
				}
				codec.NewEncoder(conn).Encode(*response)
			}(conn)
		}
	}()
	return socketPath
}

func TestAskDeliversAnswer(t *testing.T) {
	socketPath := startBridge(t, func(request chat.Request) *chat.Response {
		if request.Action != "prompt" || request.Session != "dh-w1" {
			return &chat.Response{Error: "bad request"}
		}
		return &chat.Response{OK: true, Text: "done: " + request.Prompt}
	})

	client := &chat.Client{SocketPath: socketPath}
	answers := make(chan chat.Answer, 1)
	if err := client.Ask("dh-w1", "summarize progress", func(a chat.Answer) { answers <- a }); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	answer := testutil.RequireReceive(t, answers, 5*time.Second, "waiting for answer")
	if answer.Err != nil {
		t.Fatalf("answer error: %v", answer.Err)
	}
	if answer.Text != "done: summarize progress" {
		t.Fatalf("answer text = %q", answer.Text)
	}
}

func TestAskBridgeError(t *testing.T) {
	socketPath := startBridge(t, func(chat.Request) *chat.Response {
		return &chat.Response{OK: false, Error: "agent is mid-edit"}
	})

	client := &chat.Client{SocketPath: socketPath}
	answers := make(chan chat.Answer, 1)
	if err := client.Ask("dh-w1", "ping", func(a chat.Answer) { answers <- a }); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	answer := testutil.RequireReceive(t, answers, 5*time.Second, "waiting for answer")
	if answer.Err == nil || !strings.Contains(answer.Err.Error(), "agent is mid-edit") {
		t.Fatalf("answer error = %v", answer.Err)
	}
}

func TestAskOneInFlightPerSession(t *testing.T) {
	release := make(chan struct{})
	socketPath := startBridge(t, func(chat.Request) *chat.Response {
		<-release
		return &chat.Response{OK: true, Text: "ok"}
	})

	client := &chat.Client{SocketPath: socketPath}
	answers := make(chan chat.Answer, 2)
	deliver := func(a chat.Answer) { answers <- a }

	if err := client.Ask("dh-w1", "first", deliver); err != nil {
		t.Fatalf("first Ask: %v", err)
	}
	// Wait until the first request is registered before probing.
	deadline := time.Now().Add(5 * time.Second)
	for !client.InFlight("dh-w1") {
		if time.Now().After(deadline) {
			t.Fatal("first request never registered in flight")
		}
		time.Sleep(time.Millisecond)
	}

	if err := client.Ask("dh-w1", "second", deliver); !errors.Is(err, chat.ErrBusy) {
		t.Fatalf("second Ask on same session: err = %v, want ErrBusy", err)
	}
	// A different session is unaffected.
	if err := client.Ask("dh-w2", "parallel", deliver); err != nil {
		t.Fatalf("Ask on other session: %v", err)
	}

	close(release)
	testutil.RequireReceive(t, answers, 5*time.Second, "first answer")
	testutil.RequireReceive(t, answers, 5*time.Second, "parallel answer")

	// The slot frees up after delivery.
	if err := client.Ask("dh-w1", "third", deliver); err != nil {
		t.Fatalf("Ask after completion: %v", err)
	}
}

func TestAskTimeout(t *testing.T) {
	socketPath := startBridge(t, func(chat.Request) *chat.Response {
		return nil // never reply
	})

	client := &chat.Client{SocketPath: socketPath, Timeout: 200 * time.Millisecond}
	answers := make(chan chat.Answer, 1)
	if err := client.Ask("dh-w1", "ping", func(a chat.Answer) { answers <- a }); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	answer := testutil.RequireReceive(t, answers, 5*time.Second, "waiting for timeout answer")
	if answer.Err == nil {
		t.Fatal("hung bridge did not produce an error")
	}
}

func TestAskDialFailure(t *testing.T) {
	client := &chat.Client{SocketPath: filepath.Join(t.TempDir(), "absent.sock"), Timeout: time.Second}
	answers := make(chan chat.Answer, 1)
	if err := client.Ask("dh-w1", "ping", func(a chat.Answer) { answers <- a }); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	answer := testutil.RequireReceive(t, answers, 5*time.Second, "waiting for dial failure")
	if answer.Err == nil {
		t.Fatal("missing socket did not produce an error")
	}
}
