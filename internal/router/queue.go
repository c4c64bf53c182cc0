package router

import (
	"time"

	"github.com/dialgrid/callcore/internal/types"
)

// Config holds the configuration for one queue
type Config struct {
	QueueID         string
	Skills          []string
	MaxWait         time.Duration // 0 = never overflow
	OverflowQueueID string
	SLTarget        int // target percentage (e.g., 80)
	SLThresholdSecs int // threshold in seconds (e.g., 20)
}

// queue is a priority-ordered pending list with an id index. Requests sit
// in exactly one queue; order within a priority band is strict FIFO.
type queue struct {
	cfg     Config
	pending []*types.CallRequest
	index   map[string]*types.CallRequest // requestID -> request

	assigned   int
	abandoned  int
	overflowed int
	sl         *SLTracker
}

func newQueue(cfg Config) *queue {
	return &queue{
		cfg:     cfg,
		pending: make([]*types.CallRequest, 0),
		index:   make(map[string]*types.CallRequest),
		sl:      NewSLTracker(cfg.SLTarget, cfg.SLThresholdSecs),
	}
}

// enqueue inserts the request at the tail of its priority band and
// returns its position. Priority promotion happens only here; the FIFO
// order is never reshuffled afterwards.
func (q *queue) enqueue(req *types.CallRequest) int {
	pos := len(q.pending)
	for i, pending := range q.pending {
		if pending.Priority < req.Priority {
			pos = i
			break
		}
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[pos+1:], q.pending[pos:])
	q.pending[pos] = req
	q.index[req.RequestID] = req
	return pos
}

// remove deletes a request by id, returning it and whether it was found
func (q *queue) remove(requestID string) (*types.CallRequest, bool) {
	if _, ok := q.index[requestID]; !ok {
		return nil, false
	}
	delete(q.index, requestID)
	for i, req := range q.pending {
		if req.RequestID == requestID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return req, true
		}
	}
	return nil, false
}

// longestWaitSecs returns the wait time of the oldest pending request
func (q *queue) longestWaitSecs() float64 {
	longest := 0.0
	for _, req := range q.pending {
		if wait := time.Since(req.EnqueueTime).Seconds(); wait > longest {
			longest = wait
		}
	}
	return longest
}

// snapshot returns the queue's current state
func (q *queue) snapshot(eligibleAgents int) types.QueueSnapshot {
	return types.QueueSnapshot{
		QueueID:         q.cfg.QueueID,
		Skills:          q.cfg.Skills,
		WaitingCount:    len(q.pending),
		AssignedCount:   q.assigned,
		AbandonedCount:  q.abandoned,
		OverflowedCount: q.overflowed,
		LongestWaitSecs: q.longestWaitSecs(),
		EligibleAgents:  eligibleAgents,
		ServiceLevel:    q.sl.Snapshot(),
	}
}
