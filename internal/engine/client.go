/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrUnavailable indicates the control socket is absent, refused the
	// connection, or timed out. Callers treat this as terminal for the
	// cycle and exit non-zero; the external scheduler's alerting is the
	// retry mechanism.
	ErrUnavailable = errors.New("engine unavailable")

	// ErrRejected indicates the engine answered with an error string.
	ErrRejected = errors.New("engine rejected command")

	// ErrUnknownLength indicates the engine could not determine a queue
	// depth (negative sentinel on the wire). Fail closed.
	ErrUnknownLength = errors.New("queue length unavailable")
)

// Client speaks the line-oriented control protocol over the engine's local
// unix socket. Every exchange opens a fresh connection with a bounded
// deadline; there is no pooling because each process invocation issues only
// a handful of commands.
type Client struct {
	socketPath string
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewClient creates a control client for the socket at socketPath.
func NewClient(socketPath string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    timeout,
		logger:     logger.With().Str("component", "engine_client").Logger(),
	}
}

// Push inserts an asset path onto a named queue. The response is verified
// before the push counts as successful.
func (c *Client) Push(ctx context.Context, queue Queue, assetPath string) error {
	line, err := c.roundTrip(ctx, pushRequest{queue: queue, path: assetPath})
	if err != nil {
		return err
	}

	if line != "ok" {
		return fmt.Errorf("%w: push %s: %s", ErrRejected, queue, line)
	}

	c.logger.Debug().Str("queue", string(queue)).Str("path", assetPath).Msg("pushed to engine queue")
	return nil
}

// QueueLength returns the current depth of a named queue.
func (c *Client) QueueLength(ctx context.Context, queue Queue) (int, error) {
	line, err := c.roundTrip(ctx, queueLengthRequest{queue: queue})
	if err != nil {
		return 0, err
	}

	depth, err := strconv.Atoi(line)
	if err != nil {
		return 0, fmt.Errorf("%w: queueLength %s: %s", ErrRejected, queue, line)
	}
	if depth < 0 {
		return 0, fmt.Errorf("%w: queue %s", ErrUnknownLength, queue)
	}
	return depth, nil
}

// roundTrip performs one request/response exchange. Timeouts and transport
// failures wrap ErrUnavailable so callers fail closed.
func (c *Client) roundTrip(ctx context.Context, req request) (string, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return "", fmt.Errorf("%w: dial %s: %v", ErrUnavailable, c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("%w: set deadline: %v", ErrUnavailable, err)
	}

	if _, err := conn.Write([]byte(req.encode())); err != nil {
		return "", fmt.Errorf("%w: write: %v", ErrUnavailable, err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("%w: read: %v", ErrUnavailable, err)
	}
	return strings.TrimSpace(line), nil
}
