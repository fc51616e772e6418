package serial

import "testing"

func TestLess(t *testing.T) {
	cases := []struct {
		a, b Number
		want bool
	}{
		{New(31, 1), New(31, 2), true},
		{New(31, 2), New(31, 1), false},
		{New(31, 0), New(31, 0), false},
		// wraparound: largest value is "less than" zero
		{New(8, 255), New(8, 0), true},
		{New(8, 0), New(8, 255), false},
	}
	for _, c := range cases {
		if got := c.a.Less(c.b); got != c.want {
			t.Errorf("%s.Less(%s) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestNextWraps(t *testing.T) {
	n := New(31, (1<<31)-1)
	if next := n.Next(); next.Value != 0 {
		t.Errorf("Next() = %d, want 0 after wraparound", next.Value)
	}
}

func TestLessPanicsOnMismatchedBits(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic comparing mismatched bit widths")
		}
	}()
	New(8, 1).Less(New(16, 2))
}

func TestEqual(t *testing.T) {
	if !New(31, 5).Equal(New(31, 5)) {
		t.Error("expected equal serials to compare equal")
	}
	if New(31, 5).Equal(New(16, 5)) {
		t.Error("expected mismatched bit widths to compare unequal even with same value")
	}
}
