package client

import (
	"context"
	"math/rand/v2"
	"time"
)

// request is one prepared RPC call: which server to send it to, which
// endpoint, and the already-sealed payload.
type request struct {
	Server   string
	Endpoint string
	Payload  []byte
}

// task generalizes the "prep / post / fmt_fail" callback triple threaded
// through the reference client's RPC loop into a small interface, one
// implementation per multi-server operation (escrow, verify, recover,
// delete).
type task[T any] interface {
	// Prepare builds the request for item. delay is how long the loop
	// slept before calling Prepare, so hashcash minting (done inside
	// Prepare) stays inside the freshness window the sleep bought it.
	Prepare(item T, delay time.Duration) (request, error)
	// OnSuccess handles a response that reached the RPC layer without a
	// transport error. It returns an error if the decoded response
	// itself reports a wire-level failure, which requeues item exactly
	// like a transport error would.
	OnSuccess(item T, resp []byte) error
	// OnFailure formats a log line for a failed attempt (transport error
	// or an error returned by OnSuccess).
	OnFailure(item T, err error) string
}

// taskLoopResult is what a loop run produced: every failure message
// logged along the way, and whether the queue fully drained.
type taskLoopResult struct {
	Failures []string
	OK       bool
}

// runTaskLoop processes items serially, FIFO, sleeping a random interval
// in [sleepMin, sleepMax] before each attempt after the first (1s flat
// when quick is set; the first attempt does not wait) -- this is a
// traffic-analysis defense, and it must happen before Prepare so hashcash
// minting, which embeds a timestamp, happens as late as possible. A failed
// item is re-enqueued; the loop gives up once the failure count reaches
// len(items)+3, mirroring the reference
// implementation's bounded retry budget.
func runTaskLoop[T any](ctx context.Context, rpc RPC, sleep func(time.Duration), sleepMin, sleepMax time.Duration, quick bool, items []T, t task[T]) taskLoopResult {
	queue := append([]T{}, items...)
	maxFailures := len(items) + 3
	var failures []string
	var sleeptime time.Duration

	for len(queue) > 0 && len(failures) < maxFailures {
		sleep(sleeptime)

		item := queue[0]
		queue = queue[1:]

		err := attempt(ctx, rpc, item, t, sleeptime)
		if err != nil {
			failures = append(failures, t.OnFailure(item, err))
			queue = append(queue, item)
		}

		if quick {
			sleeptime = time.Second
		} else {
			sleeptime = randomDuration(sleepMin, sleepMax)
		}
	}

	return taskLoopResult{Failures: failures, OK: len(queue) == 0}
}

func attempt[T any](ctx context.Context, rpc RPC, item T, t task[T], delay time.Duration) error {
	req, err := t.Prepare(item, delay)
	if err != nil {
		return err
	}
	resp, err := rpc.Call(ctx, req.Server, req.Endpoint, req.Payload)
	if err != nil {
		return err
	}
	return t.OnSuccess(item, resp)
}

func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)))
}
