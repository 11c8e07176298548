package lifecycle

import "testing"

func TestClassifyStartPhase_Thresholds(t *testing.T) {
	cfg := StartPhaseConfig{DeleteThreshold: 1, KeepThreshold: 4, WinnerThreshold: 10}

	cases := []struct {
		name  string
		sales float64
		want  Verdict
	}{
		{"at delete threshold", 1, VerdictReplace},
		{"below delete threshold", 0, VerdictReplace},
		{"between delete and keep", 2, VerdictHold},
		{"just below keep", 3.9, VerdictHold},
		{"at keep threshold", 4, VerdictKeep},
		{"between keep and winner", 9, VerdictKeep},
		{"at winner threshold", 10, VerdictWinner},
		{"above winner threshold", 100, VerdictWinner},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyStartPhase(tc.sales, cfg); got != tc.want {
				t.Errorf("ClassifyStartPhase(%v) = %s, want %s", tc.sales, got, tc.want)
			}
		})
	}
}

func TestClassifyStartPhase_WinnerBeatsKeep(t *testing.T) {
	// KeepThreshold == WinnerThreshold 时爆款判定优先
	cfg := StartPhaseConfig{DeleteThreshold: 0, KeepThreshold: 5, WinnerThreshold: 5}
	if got := ClassifyStartPhase(5, cfg); got != VerdictWinner {
		t.Errorf("expected winner at equal thresholds, got %s", got)
	}
}

func TestClassifyStartPhase_DegenerateAllZero(t *testing.T) {
	// 阈值全为零时零销量也不应被淘汰
	cfg := StartPhaseConfig{}
	if got := ClassifyStartPhase(0, cfg); got == VerdictReplace {
		t.Errorf("all-zero config must not replace, got %s", got)
	}
}

func TestClassifyStartPhase_Monotonic(t *testing.T) {
	cfg := StartPhaseConfig{DeleteThreshold: 1, KeepThreshold: 4, WinnerThreshold: 10}

	rank := func(v Verdict) int {
		switch v {
		case VerdictReplace:
			return 0
		case VerdictHold:
			return 1
		case VerdictKeep:
			return 2
		case VerdictWinner:
			return 3
		}
		t.Fatalf("unknown verdict %s", v)
		return -1
	}

	prev := -1
	for s := 0.0; s <= 20; s += 0.5 {
		r := rank(ClassifyStartPhase(s, cfg))
		if r < prev {
			t.Fatalf("verdict regressed at sales=%v", s)
		}
		prev = r
	}
}

func TestClassifyPostPhase_ExampleScenario(t *testing.T) {
	cfg := PostPhaseConfig{Day3Target: 2, Day7Target: 3, Day10Target: 4.5, Day14Target: 6, MinBuckets: 2}
	snap := Snapshot{Day3: 2, Day7: 1, Day10: 5, Day14: 1}

	res := ClassifyPostPhase(snap, cfg)
	if res.Verdict != PostKeep {
		t.Errorf("expected keep, got %s", res.Verdict)
	}
	if res.SuccessCount != 2 {
		t.Errorf("expected 2 passed buckets, got %d", res.SuccessCount)
	}
	wantPassed := [4]bool{true, false, true, false}
	if res.Passed != wantPassed {
		t.Errorf("passed = %v, want %v", res.Passed, wantPassed)
	}
}

func TestClassifyPostPhase_MinBucketsBoundaries(t *testing.T) {
	cfg := PostPhaseConfig{Day3Target: 10, Day7Target: 10, Day10Target: 10, Day14Target: 10}
	snap := Snapshot{} // 全部不达标

	cfg.MinBuckets = 0
	if res := ClassifyPostPhase(snap, cfg); res.Verdict != PostKeep {
		t.Errorf("minBuckets=0 must always keep, got %s", res.Verdict)
	}

	allPass := Snapshot{Day3: 10, Day7: 10, Day10: 10, Day14: 10}
	cfg.MinBuckets = 5
	if res := ClassifyPostPhase(allPass, cfg); res.Verdict != PostArchive {
		t.Errorf("minBuckets=5 must always archive, got %s", res.Verdict)
	}
	if res := ClassifyPostPhase(allPass, cfg); res.SuccessCount != 4 {
		t.Errorf("success count out of range: %d", res.SuccessCount)
	}
}

func TestClassifyPostPhase_SuccessCountRange(t *testing.T) {
	cfg := PostPhaseConfig{Day3Target: 1, Day7Target: 2, Day10Target: 3, Day14Target: 4, MinBuckets: 2}
	snaps := []Snapshot{
		{},
		{Day3: 1},
		{Day3: 1, Day7: 2},
		{Day3: 1, Day7: 2, Day10: 3},
		{Day3: 1, Day7: 2, Day10: 3, Day14: 4},
	}
	for i, snap := range snaps {
		res := ClassifyPostPhase(snap, cfg)
		if res.SuccessCount != i {
			t.Errorf("snapshot %d: success count = %d, want %d", i, res.SuccessCount, i)
		}
		wantKeep := i >= cfg.MinBuckets
		if (res.Verdict == PostKeep) != wantKeep {
			t.Errorf("snapshot %d: verdict = %s", i, res.Verdict)
		}
	}
}
