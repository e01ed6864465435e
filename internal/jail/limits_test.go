package jail

import "testing"

func TestMergeEmptyOverridesEqualsDefaults(t *testing.T) {
	defaults := Profile{CPU: 1, Time: 5, Memory: 30_000_000, FileSize: 1_000_000, NProc: 1, CanFork: false}
	got, err := Merge(defaults, nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got != defaults {
		t.Errorf("Merge(defaults, nil) = %+v, want %+v", got, defaults)
	}
}

func TestMergeChangesOnlyNamedKey(t *testing.T) {
	defaults := Profile{CPU: 1, Time: 5, Memory: 30_000_000, FileSize: 1_000_000, NProc: 1, CanFork: false}
	got, err := Merge(defaults, map[LimitKey]int64{MEMORY: 80_000_000})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := defaults
	want.Memory = 80_000_000
	if got != want {
		t.Errorf("Merge changed more than MEMORY: got %+v, want %+v", got, want)
	}
}

func TestMergeUnlimitedOverridesFiniteDefault(t *testing.T) {
	defaults := Profile{Memory: 30_000_000}
	got, err := Merge(defaults, map[LimitKey]int64{MEMORY: Unlimited})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got.Memory != Unlimited {
		t.Errorf("Memory = %d, want Unlimited", got.Memory)
	}
}

func TestMergeUnknownKeyRejected(t *testing.T) {
	defaults := Profile{}
	_, err := Merge(defaults, map[LimitKey]int64{"BOGUS": 1})
	if err == nil {
		t.Fatal("expected error for unknown limit key")
	}
}

func TestMergeDerivesTimeFromCPURatio(t *testing.T) {
	defaults := Profile{}
	got, err := Merge(defaults, map[LimitKey]int64{CPU: 2})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got.Time != 2*DefaultRatio {
		t.Errorf("Time = %d, want %d", got.Time, 2*DefaultRatio)
	}
}

func TestMergeExplicitTimeNotOverriddenByRatio(t *testing.T) {
	defaults := Profile{}
	got, err := Merge(defaults, map[LimitKey]int64{CPU: 2, TIME: 1})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got.Time != 1 {
		t.Errorf("Time = %d, want 1 (explicit override must win over the ratio)", got.Time)
	}
}

func TestMergeCanForkFalseReservesWrapperSlot(t *testing.T) {
	defaults := Profile{CanFork: true}
	got, err := Merge(defaults, map[LimitKey]int64{CAN_FORK: 0})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got.CanFork {
		t.Fatal("CanFork should be false")
	}
	if got.NProc != 2 {
		t.Errorf("NProc = %d, want 2 (wrapper + guest, no silent clamp below that)", got.NProc)
	}
}

func TestMergeCanForkFalseRespectsExplicitNProc(t *testing.T) {
	defaults := Profile{CanFork: true}
	got, err := Merge(defaults, map[LimitKey]int64{CAN_FORK: 0, NPROC: 1})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got.NProc != 1 {
		t.Errorf("NProc = %d, want 1 (explicit override must not be clamped)", got.NProc)
	}
}
