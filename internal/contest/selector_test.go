package contest

import (
	"math/rand"
	"testing"
	"time"
)

func TestPickWinners_ZeroWeightNeverSelected(t *testing.T) {
	pool := []Entrant{
		{UserID: 1, Weight: 10},
		{UserID: 2, Weight: 0},
		{UserID: 3, Weight: 5},
	}

	for seed := int64(0); seed < 100; seed++ {
		rng := rand.New(rand.NewSource(seed))
		winners := PickWinners(rng, pool, 3)

		if len(winners) != 2 {
			t.Fatalf("seed %d: got %d winners, want 2 (zero-weight excluded)", seed, len(winners))
		}
		for _, w := range winners {
			if w.UserID == 2 {
				t.Fatalf("seed %d: zero-weight user selected", seed)
			}
		}
	}
}

func TestPickWinners_NoRepeats(t *testing.T) {
	pool := []Entrant{
		{UserID: 1, Weight: 1},
		{UserID: 2, Weight: 100},
		{UserID: 3, Weight: 50},
		{UserID: 4, Weight: 7},
	}

	for seed := int64(0); seed < 100; seed++ {
		rng := rand.New(rand.NewSource(seed))
		winners := PickWinners(rng, pool, 4)

		seen := map[int64]bool{}
		for _, w := range winners {
			if seen[w.UserID] {
				t.Fatalf("seed %d: user %d selected twice", seed, w.UserID)
			}
			seen[w.UserID] = true
		}
		if len(winners) != 4 {
			t.Fatalf("seed %d: got %d winners, want 4", seed, len(winners))
		}
	}
}

func TestPickWinners_PoolSmallerThanN(t *testing.T) {
	pool := []Entrant{{UserID: 1, Weight: 3}}

	rng := rand.New(rand.NewSource(1))
	winners := PickWinners(rng, pool, 5)

	if len(winners) != 1 {
		t.Fatalf("got %d winners, want 1", len(winners))
	}
}

func TestPickWinners_Deterministic(t *testing.T) {
	pool := []Entrant{
		{UserID: 1, Weight: 10},
		{UserID: 2, Weight: 20},
		{UserID: 3, Weight: 30},
	}

	a := PickWinners(rand.New(rand.NewSource(42)), pool, 2)
	b := PickWinners(rand.New(rand.NewSource(42)), pool, 2)

	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].UserID != b[i].UserID {
			t.Fatalf("same seed produced different winners: %v vs %v", a, b)
		}
	}
}

func TestPickWinners_WeightBias(t *testing.T) {
	pool := []Entrant{
		{UserID: 1, Weight: 90},
		{UserID: 2, Weight: 10},
	}

	heavyFirst := 0
	const rounds = 2000
	for seed := int64(0); seed < rounds; seed++ {
		rng := rand.New(rand.NewSource(seed))
		winners := PickWinners(rng, pool, 1)
		if winners[0].UserID == 1 {
			heavyFirst++
		}
	}

	// При весах 90/10 тяжёлый участник должен выигрывать примерно в 90% случаев.
	if heavyFirst < rounds*8/10 {
		t.Fatalf("heavy entrant won only %d of %d draws", heavyFirst, rounds)
	}
}

func TestPeriod(t *testing.T) {
	got := Period(time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC))
	if got != "2026-01" {
		t.Fatalf("Period = %q, want 2026-01", got)
	}

	mid := Period(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	if mid == got {
		t.Fatalf("mid-year period must differ from the first period")
	}
}
