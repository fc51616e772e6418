// Package slottable implements the DSP slot table described in
// spec.md §4.2: per-channel at-most-once execution tracking, duplicate-
// request classification, and dynamic slot-count negotiation.
//
// This is a generalization of internal/adapter/nfs/v4/state.SlotTable
// (see slot_table.go, slot_table_test.go) from its server-only
// validate-and-cache role to the client-side Reserve/Confirm/Rollback/
// Release/Update contract spec.md §4.2 names, with the bare uint32
// SeqID replaced by an RFC 1982 serial.Number so slot sequence numbers
// compare correctly across the 31-bit wraparound point.
package slottable

import (
	"sync"

	"github.com/marmos91/dsp/internal/dsp/serial"
)

const (
	// DefaultMaxSlots is the hard ceiling on allocated slot storage,
	// mirroring the teacher's server-side constant of the same name.
	DefaultMaxSlots uint32 = 64

	// MinSlots is the smallest usable slot table size.
	MinSlots uint32 = 1
)

// Outcome classifies an incoming (slotID, slotSN) pair against this
// table's bookkeeping, per spec.md §4.2's duplicate-detection rule.
type Outcome int

const (
	// OutcomeFresh indicates slotSN is exactly one past the slot's
	// current sequence: a new request.
	OutcomeFresh Outcome = iota
	// OutcomeRetry indicates slotSN equals the slot's current
	// sequence: a retransmission of the last completed request.
	OutcomeRetry
)

func (o Outcome) String() string {
	if o == OutcomeRetry {
		return "Retry"
	}
	return "Fresh"
}

// slot is one entry in the table.
type slot struct {
	sn          serial.Number
	priorSN     serial.Number
	bound       bool
	commandID   uint64
	cachedReply []byte
}

// SlotTable tracks per-slot sequence state for one DSP channel. A
// SlotTable is per-channel, never shared across channels, matching the
// teacher's per-session slot table scoping.
type SlotTable struct {
	mu sync.Mutex

	slots []slot

	maxSlots uint32 // fixed allocation ceiling, DefaultMaxSlots-clamped

	// currentMaxSlotID is the slot ID ceiling presently in effect for
	// Reserve (inclusive). targetMaxSlotID is where Update wants this
	// to converge; when target < current, Reserve stops handing out
	// slots above target immediately, and the table waits for those
	// slots to drain (Release) before lowering current to match.
	currentMaxSlotID uint32
	targetMaxSlotID  uint32

	highestSlotID uint32
}

// New creates a SlotTable with numSlots slots, clamped to
// [MinSlots, DefaultMaxSlots].
func New(numSlots uint32) *SlotTable {
	if numSlots < MinSlots {
		numSlots = MinSlots
	}
	if numSlots > DefaultMaxSlots {
		numSlots = DefaultMaxSlots
	}

	st := &SlotTable{
		slots:            make([]slot, numSlots),
		maxSlots:         numSlots,
		currentMaxSlotID: numSlots - 1,
		targetMaxSlotID:  numSlots - 1,
	}
	for i := range st.slots {
		st.slots[i].sn = serial.NewSlotSN()
	}
	return st
}

// ceilingLocked returns the slot ID ceiling Reserve must honor right
// now: the lower of the applied size and the converging target.
func (st *SlotTable) ceilingLocked() uint32 {
	if st.targetMaxSlotID < st.currentMaxSlotID {
		return st.targetMaxSlotID
	}
	return st.currentMaxSlotID
}

// Reserve finds the lowest free slot at or below the current ceiling,
// binds it to commandID, and advances its sequence number. It returns
// ErrSlotUnavailable if every eligible slot is bound.
func (st *SlotTable) Reserve(commandID uint64) (slotID uint32, slotSN serial.Number, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	ceiling := st.ceilingLocked()
	for id := uint32(0); id <= ceiling; id++ {
		s := &st.slots[id]
		if s.bound {
			continue
		}
		s.priorSN = s.sn
		s.sn = s.sn.Next()
		s.bound = true
		s.commandID = commandID
		if id > st.highestSlotID {
			st.highestSlotID = id
		}
		return id, s.sn, nil
	}
	return 0, serial.Number{}, unavailable("no free slot at or below current ceiling")
}

// Confirm marks slotID's sequence as acknowledged. When idempotent is
// false, reply is retained for duplicate-request replay; otherwise any
// previously cached reply is cleared. The slot stays bound until
// Release.
func (st *SlotTable) Confirm(slotID uint32, idempotent bool, reply []byte) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, err := st.slotLocked(slotID)
	if err != nil {
		return err
	}
	if idempotent || reply == nil {
		s.cachedReply = nil
		return nil
	}
	s.cachedReply = append([]byte(nil), reply...)
	return nil
}

// Rollback reverts slotID's sequence number to its value before the
// most recent Reserve and releases the slot, for use when a
// slot-failure protocol status indicates the peer never advanced its
// side.
func (st *SlotTable) Rollback(slotID uint32) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, err := st.slotLocked(slotID)
	if err != nil {
		return err
	}
	s.sn = s.priorSN
	st.releaseLocked(s)
	return nil
}

// Release drops slotID's binding to its command. The slot becomes free
// for Reserve, possibly still holding a cached reply from Confirm.
func (st *SlotTable) Release(slotID uint32) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, err := st.slotLocked(slotID)
	if err != nil {
		return err
	}
	st.releaseLocked(s)
	st.maybeFinalizeLocked()
	return nil
}

func (st *SlotTable) releaseLocked(s *slot) {
	s.bound = false
	s.commandID = 0
}

// Update applies an advertised currentMaxSlotID and records the peer's
// targetMaxSlotID. When the target is below the applied size, Reserve
// immediately stops handing out slots above the target, but the table
// only finalizes the smaller size once every slot above target has
// drained (see maybeFinalizeLocked).
func (st *SlotTable) Update(currentMaxSlotID, targetMaxSlotID uint32) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if currentMaxSlotID >= st.maxSlots {
		currentMaxSlotID = st.maxSlots - 1
	}
	if targetMaxSlotID >= st.maxSlots {
		targetMaxSlotID = st.maxSlots - 1
	}
	st.currentMaxSlotID = currentMaxSlotID
	st.targetMaxSlotID = targetMaxSlotID
	st.maybeFinalizeLocked()
}

// maybeFinalizeLocked lowers currentMaxSlotID to targetMaxSlotID once
// every slot strictly above the target has drained (is unbound).
func (st *SlotTable) maybeFinalizeLocked() {
	if st.targetMaxSlotID >= st.currentMaxSlotID {
		return
	}
	for id := st.targetMaxSlotID + 1; id <= st.currentMaxSlotID; id++ {
		if st.slots[id].bound {
			return
		}
	}
	st.currentMaxSlotID = st.targetMaxSlotID
}

// IncomingSequence classifies a received (slotID, slotSN) pair against
// this table's bookkeeping, per spec.md §4.2's duplicate-detection
// rule: equal to current ⇒ retry, one past current ⇒ fresh, behind
// current ⇒ ErrSlotFalseRetry, anything else ⇒ ErrSlotSeqMisordered.
func (st *SlotTable) IncomingSequence(slotID uint32, incoming serial.Number) (Outcome, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, err := st.slotLocked(slotID)
	if err != nil {
		return 0, err
	}

	if incoming.Equal(s.sn) {
		return OutcomeRetry, nil
	}
	if incoming.Equal(s.sn.Next()) {
		return OutcomeFresh, nil
	}
	if incoming.Less(s.sn) {
		return 0, &Error{Code: ErrSlotFalseRetry, Message: "incoming sequence behind slot's current sequence"}
	}
	return 0, &Error{Code: ErrSlotSeqMisordered, Message: "incoming sequence neither fresh nor retry"}
}

// CachedReply returns slotID's cached reply, if any, and whether one
// was present.
func (st *SlotTable) CachedReply(slotID uint32) ([]byte, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, err := st.slotLocked(slotID)
	if err != nil || s.cachedReply == nil {
		return nil, false
	}
	return append([]byte(nil), s.cachedReply...), true
}

// CurrentMaxSlotID returns the applied slot ID ceiling.
func (st *SlotTable) CurrentMaxSlotID() uint32 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.currentMaxSlotID
}

// TargetMaxSlotID returns the slot ID ceiling this table is converging
// toward.
func (st *SlotTable) TargetMaxSlotID() uint32 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.targetMaxSlotID
}

// HighestSlotID returns the highest slot ID ever handed out by Reserve.
func (st *SlotTable) HighestSlotID() uint32 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.highestSlotID
}

// MaxSlots returns the fixed allocation ceiling.
func (st *SlotTable) MaxSlots() uint32 {
	return st.maxSlots
}

// SlotsBound returns the number of slots currently bound to a command.
func (st *SlotTable) SlotsBound() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	n := 0
	for i := range st.slots {
		if st.slots[i].bound {
			n++
		}
	}
	return n
}

func (st *SlotTable) slotLocked(slotID uint32) (*slot, error) {
	if slotID >= st.maxSlots {
		return nil, badSlotID("slot ID out of range")
	}
	return &st.slots[slotID], nil
}
