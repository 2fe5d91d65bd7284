package correct_test

import (
	"testing"

	"github.com/echonote/echonote/internal/correct"
	"github.com/echonote/echonote/internal/store"
)

func TestAssess_TypoIsPlausible(t *testing.T) {
	t.Parallel()
	score := correct.Assess(store.Correction{Original: "teh", Corrected: "the"})
	if score.Suspect() {
		t.Errorf("simple transposition should be plausible: %+v", score)
	}
	if score.Similarity <= 0 {
		t.Errorf("similarity should be positive, got %v", score.Similarity)
	}
}

func TestAssess_HomophoneIsPlausible(t *testing.T) {
	t.Parallel()
	score := correct.Assess(store.Correction{Original: "there", Corrected: "their"})
	if !score.Homophone {
		t.Errorf("there/their should be homophones: %+v", score)
	}
	if score.Suspect() {
		t.Errorf("homophones are never suspect: %+v", score)
	}
}

func TestAssess_UnrelatedWordIsSuspect(t *testing.T) {
	t.Parallel()
	score := correct.Assess(store.Correction{Original: "quarterly", Corrected: "banana"})
	if !score.Suspect() {
		t.Errorf("unrelated replacement should be suspect: %+v", score)
	}
}

func TestAssess_IdenticalPair(t *testing.T) {
	t.Parallel()
	score := correct.Assess(store.Correction{Original: "same", Corrected: "same"})
	if score.Similarity != 1 {
		t.Errorf("identical pair similarity: got %v, want 1", score.Similarity)
	}
	if score.Suspect() {
		t.Error("identical pair must not be suspect")
	}
}

func TestLogSuspects_CountsOnlySuspects(t *testing.T) {
	t.Parallel()
	corrections := []store.Correction{
		{Original: "teh", Corrected: "the"},
		{Original: "quarterly", Corrected: "banana"},
	}
	if got := correct.LogSuspects(1, 0, corrections); got != 1 {
		t.Errorf("suspects: got %d, want 1", got)
	}
}

func TestLogSuspects_Empty(t *testing.T) {
	t.Parallel()
	if got := correct.LogSuspects(1, 0, nil); got != 0 {
		t.Errorf("suspects: got %d, want 0", got)
	}
}
