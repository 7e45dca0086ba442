/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import "fmt"

// Queue names one of the engine's named input queues.
type Queue string

const (
	QueueManual      Queue = "manual"       // operator manual override
	QueueBreakForced Queue = "break_forced" // operator-forced bulletin
	QueueBreak       Queue = "break"        // scheduled bulletin
	QueueMusic       Queue = "music"        // continuous rotation
	QueueBumper      Queue = "bumper"       // short filler / station idents
	QueueFallback    Queue = "fallback"     // evergreen fallback
	QueueSafety      Queue = "safety"       // last-resort loop
)

// PriorityChain is the declared fallback ordering, highest priority first.
// The orchestrator hands this specification to the engine; the engine owns
// the actual mixing. As long as the lowest queue is never empty, output
// audio never goes silent.
func PriorityChain() []Queue {
	return []Queue{
		QueueManual,
		QueueBreakForced,
		QueueBreak,
		QueueMusic,
		QueueBumper,
		QueueFallback,
		QueueSafety,
	}
}

// The wire format is plain text lines, but inside the process commands are
// a closed set of typed requests so nothing hand-assembles protocol
// strings at call sites.
type request interface {
	encode() string
}

type pushRequest struct {
	queue Queue
	path  string
}

func (r pushRequest) encode() string {
	return fmt.Sprintf("push %s %s\n", r.queue, r.path)
}

type queueLengthRequest struct {
	queue Queue
}

func (r queueLengthRequest) encode() string {
	return fmt.Sprintf("queueLength %s\n", r.queue)
}
