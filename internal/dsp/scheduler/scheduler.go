// Package scheduler implements the DSP transport scheduler described
// in spec.md §4.5: a live-transport registry with pluggable selection
// policy (round-robin or least-queue), plus a wait primitive so a
// retry/abort path that was handed a since-dead transport can block
// until the scheduler confirms its removal rather than hot-looping.
//
// The live-transport bookkeeping follows the teacher's
// internal/protocol/smb/session package's single-mutex-guarded-struct
// idiom; the least-queue policy's "pick smallest outstanding count"
// comparison is grounded on aistore's transport send-side queue-depth
// accounting (see other_examples' aistore transport files).
package scheduler

import (
	"fmt"
	"sync"

	"github.com/marmos91/dsp/internal/dsp/wire"
)

// Transport is the minimal view of a transport the scheduler needs.
// internal/dsp/transport.Transport satisfies this.
type Transport interface {
	ID() uint64
	Live() bool
	Outstanding() int
}

// ErrNoLiveTransport is returned by Schedule when no eligible
// transport is available.
var ErrNoLiveTransport = fmt.Errorf("scheduler: no live transport available")

// Scheduler selects a transport for the next exchange from a set of
// attached transports, per one of two policies (spec.md §4.5).
type Scheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	policy wire.SchedulerPolicy

	transports []Transport // insertion order, for round-robin tie-breaking
	cursor     int
}

// New returns a Scheduler using policy.
func New(policy wire.SchedulerPolicy) *Scheduler {
	s := &Scheduler{policy: policy}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Attach registers t as available for scheduling.
func (s *Scheduler) Attach(t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.transports {
		if existing.ID() == t.ID() {
			return
		}
	}
	s.transports = append(s.transports, t)
	s.cond.Broadcast()
}

// Detach removes t from the scheduler. Waiters blocked in
// WaitForRemoval(t.ID()) are woken.
func (s *Scheduler) Detach(t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.transports {
		if existing.ID() == t.ID() {
			s.transports = append(s.transports[:i], s.transports[i+1:]...)
			if s.cursor > i {
				s.cursor--
			}
			break
		}
	}
	s.cond.Broadcast()
}

// Contains reports whether a transport with the given ID is currently
// attached.
func (s *Scheduler) Contains(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.containsLocked(id)
}

func (s *Scheduler) containsLocked(id uint64) bool {
	for _, t := range s.transports {
		if t.ID() == id {
			return true
		}
	}
	return false
}

// IsEmpty reports whether no transports are attached.
func (s *Scheduler) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transports) == 0
}

// WaitForRemoval blocks until the transport identified by id is no
// longer attached. A caller holding a reference to a transport it
// believes is dead calls this before retrying, so it waits on the
// scheduler's own notification instead of polling (spec.md §4.5: "a
// scheduler that has handed out a dead transport must allow the
// channel to wait on the scheduler monitor until the dead transport is
// confirmed removed").
func (s *Scheduler) WaitForRemoval(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.containsLocked(id) {
		s.cond.Wait()
	}
}

// Schedule picks a live transport per the configured policy.
func (s *Scheduler) Schedule() (Transport, error) {
	return s.schedule(nil)
}

// ScheduleExcluding picks a live transport per the configured policy,
// excluding the transport identified by excludeID (used by the retry
// path to avoid immediately re-selecting a transport just found dead).
func (s *Scheduler) ScheduleExcluding(excludeID uint64) (Transport, error) {
	return s.schedule(&excludeID)
}

func (s *Scheduler) schedule(excludeID *uint64) (Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []int // indices into s.transports
	for i, t := range s.transports {
		if !t.Live() {
			continue
		}
		if excludeID != nil && t.ID() == *excludeID {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return nil, ErrNoLiveTransport
	}

	switch s.policy {
	case wire.SchedulerLeastQueue:
		return s.scheduleLeastQueueLocked(candidates), nil
	default:
		return s.scheduleRoundRobinLocked(candidates), nil
	}
}

// scheduleRoundRobinLocked advances a rotating cursor over candidates,
// breaking ties (there are none to break, strictly) by insertion
// order.
func (s *Scheduler) scheduleRoundRobinLocked(candidates []int) Transport {
	s.cursor = (s.cursor + 1) % len(s.transports)
	for offset := 0; offset < len(s.transports); offset++ {
		idx := (s.cursor + offset) % len(s.transports)
		for _, c := range candidates {
			if c == idx {
				s.cursor = idx
				return s.transports[idx]
			}
		}
	}
	// Unreachable: candidates is non-empty and drawn from s.transports.
	return s.transports[candidates[0]]
}

// scheduleLeastQueueLocked picks the candidate with the smallest
// Outstanding() count, breaking ties by round-robin among the tied
// candidates.
func (s *Scheduler) scheduleLeastQueueLocked(candidates []int) Transport {
	min := -1
	var tied []int
	for _, c := range candidates {
		n := s.transports[c].Outstanding()
		switch {
		case min == -1 || n < min:
			min = n
			tied = []int{c}
		case n == min:
			tied = append(tied, c)
		}
	}
	return s.scheduleRoundRobinLocked(tied)
}
