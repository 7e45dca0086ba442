/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"bufio"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeEngine answers the control protocol on a unix socket. responses maps
// a full request line to the reply line.
type fakeEngine struct {
	listener net.Listener
	requests chan string
}

func startFakeEngine(t *testing.T, respond func(line string) string) (*fakeEngine, string) {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "engine.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	fake := &fakeEngine{listener: listener, requests: make(chan string, 16)}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				line, err := bufio.NewReader(conn).ReadString('\n')
				if err != nil {
					return
				}
				line = strings.TrimSpace(line)
				fake.requests <- line
				conn.Write([]byte(respond(line) + "\n"))
			}(conn)
		}
	}()

	t.Cleanup(func() { listener.Close() })
	return fake, socketPath
}

func TestPushSuccess(t *testing.T) {
	fake, socketPath := startFakeEngine(t, func(line string) string { return "ok" })
	client := NewClient(socketPath, 2*time.Second, zerolog.Nop())

	if err := client.Push(context.Background(), QueueMusic, "/catalog/ab/cd/abcd.mp3"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	got := <-fake.requests
	want := "push music /catalog/ab/cd/abcd.mp3"
	if got != want {
		t.Errorf("wire request = %q, want %q", got, want)
	}
}

func TestPushErrorStringIsRejection(t *testing.T) {
	_, socketPath := startFakeEngine(t, func(line string) string { return "error: no such queue" })
	client := NewClient(socketPath, 2*time.Second, zerolog.Nop())

	err := client.Push(context.Background(), Queue("nope"), "/x.mp3")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Push() err = %v, want ErrRejected", err)
	}
	if !strings.Contains(err.Error(), "no such queue") {
		t.Errorf("rejection reason lost: %v", err)
	}
}

func TestQueueLength(t *testing.T) {
	_, socketPath := startFakeEngine(t, func(line string) string {
		if line == "queueLength music" {
			return "7"
		}
		return "error: unknown"
	})
	client := NewClient(socketPath, 2*time.Second, zerolog.Nop())

	depth, err := client.QueueLength(context.Background(), QueueMusic)
	if err != nil {
		t.Fatalf("QueueLength() error = %v", err)
	}
	if depth != 7 {
		t.Errorf("depth = %d, want 7", depth)
	}
}

// A negative wire value means the engine could not determine the depth;
// that must surface as failure, never as zero.
func TestQueueLengthNegativeSentinel(t *testing.T) {
	_, socketPath := startFakeEngine(t, func(line string) string { return "-1" })
	client := NewClient(socketPath, 2*time.Second, zerolog.Nop())

	if _, err := client.QueueLength(context.Background(), QueueMusic); !errors.Is(err, ErrUnknownLength) {
		t.Errorf("err = %v, want ErrUnknownLength", err)
	}
}

func TestAbsentSocketIsUnavailable(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "missing.sock"), 500*time.Millisecond, zerolog.Nop())

	if err := client.Push(context.Background(), QueueMusic, "/x.mp3"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Push() err = %v, want ErrUnavailable", err)
	}
	if _, err := client.QueueLength(context.Background(), QueueMusic); !errors.Is(err, ErrUnavailable) {
		t.Errorf("QueueLength() err = %v, want ErrUnavailable", err)
	}
}

// A server that accepts but never answers must fail by deadline, not hang.
func TestSilentServerTimesOut(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "engine.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			// Hold the connection open without replying.
			go func(c net.Conn) { time.Sleep(5 * time.Second); c.Close() }(conn)
		}
	}()

	client := NewClient(socketPath, 300*time.Millisecond, zerolog.Nop())
	start := time.Now()
	err = client.Push(context.Background(), QueueMusic, "/x.mp3")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timed out after %v, deadline not applied", elapsed)
	}
}

func TestPriorityChainOrder(t *testing.T) {
	chain := PriorityChain()

	if len(chain) != 7 {
		t.Fatalf("chain length = %d, want 7", len(chain))
	}
	if chain[0] != QueueManual {
		t.Errorf("highest priority = %s, want manual", chain[0])
	}
	if chain[len(chain)-1] != QueueSafety {
		t.Errorf("lowest priority = %s, want safety", chain[len(chain)-1])
	}
	// Forced breaks outrank scheduled breaks, which outrank music.
	index := map[Queue]int{}
	for i, q := range chain {
		index[q] = i
	}
	if !(index[QueueBreakForced] < index[QueueBreak] && index[QueueBreak] < index[QueueMusic]) {
		t.Errorf("break ordering wrong: %v", chain)
	}
	if !(index[QueueMusic] < index[QueueBumper] && index[QueueBumper] < index[QueueFallback]) {
		t.Errorf("filler ordering wrong: %v", chain)
	}
}
