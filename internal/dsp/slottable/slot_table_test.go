package slottable

import (
	"testing"

	"github.com/marmos91/dsp/internal/dsp/serial"
)

func TestNewClampsToBounds(t *testing.T) {
	t.Run("normal creation", func(t *testing.T) {
		st := New(8)
		if st.MaxSlots() != 8 {
			t.Errorf("MaxSlots() = %d, want 8", st.MaxSlots())
		}
		if st.CurrentMaxSlotID() != 7 {
			t.Errorf("CurrentMaxSlotID() = %d, want 7", st.CurrentMaxSlotID())
		}
		if st.TargetMaxSlotID() != 7 {
			t.Errorf("TargetMaxSlotID() = %d, want 7", st.TargetMaxSlotID())
		}
	})

	t.Run("zero slots clamped to MinSlots", func(t *testing.T) {
		st := New(0)
		if st.MaxSlots() != MinSlots {
			t.Errorf("MaxSlots() = %d, want %d", st.MaxSlots(), MinSlots)
		}
	})

	t.Run("exceeds DefaultMaxSlots clamped", func(t *testing.T) {
		st := New(DefaultMaxSlots + 100)
		if st.MaxSlots() != DefaultMaxSlots {
			t.Errorf("MaxSlots() = %d, want %d", st.MaxSlots(), DefaultMaxSlots)
		}
	})
}

func TestReserveFindsLowestFreeSlot(t *testing.T) {
	st := New(4)

	id0, sn0, err := st.Reserve(100)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if id0 != 0 {
		t.Errorf("first reserve got slot %d, want 0", id0)
	}
	if sn0.Equal(serial.NewSlotSN()) {
		t.Errorf("reserved slotSN should have advanced past the initial value")
	}

	id1, _, err := st.Reserve(101)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if id1 != 1 {
		t.Errorf("second reserve got slot %d, want 1", id1)
	}

	if err := st.Release(id0); err != nil {
		t.Fatalf("Release: %v", err)
	}

	id2, _, err := st.Reserve(102)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if id2 != 0 {
		t.Errorf("reserve after release got slot %d, want 0 (lowest free)", id2)
	}
}

func TestReserveUnavailableWhenSaturated(t *testing.T) {
	st := New(2)
	if _, _, err := st.Reserve(1); err != nil {
		t.Fatal(err)
	}
	if _, _, err := st.Reserve(2); err != nil {
		t.Fatal(err)
	}
	_, _, err := st.Reserve(3)
	fe, ok := err.(*Error)
	if !ok || fe.Code != ErrSlotUnavailable {
		t.Fatalf("got %v, want ErrSlotUnavailable", err)
	}
}

func TestConfirmCachesReplyForNonIdempotent(t *testing.T) {
	st := New(2)
	id, _, _ := st.Reserve(1)

	if err := st.Confirm(id, false, []byte("response-bytes")); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	reply, ok := st.CachedReply(id)
	if !ok || string(reply) != "response-bytes" {
		t.Fatalf("CachedReply() = %q, %v; want \"response-bytes\", true", reply, ok)
	}
}

func TestConfirmDropsReplyForIdempotent(t *testing.T) {
	st := New(2)
	id, _, _ := st.Reserve(1)

	if err := st.Confirm(id, true, []byte("response-bytes")); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, ok := st.CachedReply(id); ok {
		t.Fatal("expected no cached reply for an idempotent command")
	}
}

func TestRollbackRevertsSequenceAndReleases(t *testing.T) {
	st := New(2)
	id, firstSN, err := st.Reserve(1)
	if err != nil {
		t.Fatal(err)
	}

	if err := st.Rollback(id); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if st.SlotsBound() != 0 {
		t.Fatalf("SlotsBound() = %d, want 0 after rollback", st.SlotsBound())
	}

	// Reserving again should produce the same sequence number as
	// before, since rollback reverted the slot's advance.
	_, secondSN, err := st.Reserve(2)
	if err != nil {
		t.Fatal(err)
	}
	if !secondSN.Equal(firstSN) {
		t.Errorf("sequence after rollback+reserve = %v, want %v (reverted)", secondSN, firstSN)
	}
}

func TestReleaseDropsBindingKeepsCache(t *testing.T) {
	st := New(2)
	id, _, _ := st.Reserve(1)
	_ = st.Confirm(id, false, []byte("cached"))

	if err := st.Release(id); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if st.SlotsBound() != 0 {
		t.Errorf("SlotsBound() = %d, want 0", st.SlotsBound())
	}
	reply, ok := st.CachedReply(id)
	if !ok || string(reply) != "cached" {
		t.Fatalf("expected cached reply to survive Release, got %q, %v", reply, ok)
	}
}

func TestUpdateShrinksOnlyAfterDrain(t *testing.T) {
	st := New(4) // slots 0..3

	idA, _, _ := st.Reserve(1) // slot 0
	idB, _, _ := st.Reserve(2) // slot 1
	_, _, _ = st.Reserve(3)    // slot 2
	_ = idA
	_ = idB

	// Target shrinks the table to 2 slots (highest id 1), but slot 2
	// is still bound, so the table cannot finalize yet.
	st.Update(3, 1)
	if st.CurrentMaxSlotID() != 3 {
		t.Errorf("CurrentMaxSlotID() = %d, want 3 (not yet drained)", st.CurrentMaxSlotID())
	}
	if st.TargetMaxSlotID() != 1 {
		t.Errorf("TargetMaxSlotID() = %d, want 1", st.TargetMaxSlotID())
	}

	// Reserve must not hand out slots above the target while draining.
	if _, _, err := st.Reserve(4); err == nil {
		t.Fatal("expected ErrSlotUnavailable: slots 0 and 1 are bound, slot 2 is above target")
	}

	if err := st.Release(idB); err != nil {
		t.Fatal(err)
	}
	// Still not drained: slot 2 remains bound.
	if st.CurrentMaxSlotID() != 3 {
		t.Errorf("CurrentMaxSlotID() = %d, want 3 (slot 2 still bound)", st.CurrentMaxSlotID())
	}

	if err := st.Release(2); err != nil {
		t.Fatal(err)
	}
	if st.CurrentMaxSlotID() != 1 {
		t.Errorf("CurrentMaxSlotID() = %d, want 1 (drained and finalized)", st.CurrentMaxSlotID())
	}
}

func TestUpdateGrowsImmediately(t *testing.T) {
	st := New(8) // slots 0..7
	st.Update(3, 3)
	st.Update(7, 7)
	if st.CurrentMaxSlotID() != 7 {
		t.Errorf("CurrentMaxSlotID() = %d, want 7", st.CurrentMaxSlotID())
	}
}

func TestIncomingSequenceClassification(t *testing.T) {
	st := New(2)
	id, sn, err := st.Reserve(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Confirm(id, true, nil); err != nil {
		t.Fatal(err)
	}

	t.Run("retry matches current sequence", func(t *testing.T) {
		outcome, err := st.IncomingSequence(id, sn)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome != OutcomeRetry {
			t.Errorf("got %v, want OutcomeRetry", outcome)
		}
	})

	t.Run("fresh is one past current", func(t *testing.T) {
		outcome, err := st.IncomingSequence(id, sn.Next())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome != OutcomeFresh {
			t.Errorf("got %v, want OutcomeFresh", outcome)
		}
	})

	t.Run("false retry is behind current", func(t *testing.T) {
		behind := serial.New(serial.SlotSNBits, sn.Value-1)
		_, err := st.IncomingSequence(id, behind)
		fe, ok := err.(*Error)
		if !ok || fe.Code != ErrSlotFalseRetry {
			t.Fatalf("got %v, want ErrSlotFalseRetry", err)
		}
	})

	t.Run("misordered is more than one ahead", func(t *testing.T) {
		ahead := serial.New(serial.SlotSNBits, sn.Value+2)
		_, err := st.IncomingSequence(id, ahead)
		fe, ok := err.(*Error)
		if !ok || fe.Code != ErrSlotSeqMisordered {
			t.Fatalf("got %v, want ErrSlotSeqMisordered", err)
		}
	})
}

func TestBadSlotIDRejected(t *testing.T) {
	st := New(2)
	err := st.Release(99)
	fe, ok := err.(*Error)
	if !ok || fe.Code != ErrBadSlotID {
		t.Fatalf("got %v, want ErrBadSlotID", err)
	}
}
