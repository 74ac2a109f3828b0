package interview

import (
	"testing"

	"github.com/BTreeMap/ScreenPipe/internal/registry"
)

func TestSelectFirstItemIsDepression(t *testing.T) {
	id, ok := SelectNextItem(registry.AllItemIDs(), nil, nil)
	if !ok {
		t.Fatal("no item selected from full pending set")
	}
	if id != "D1" {
		t.Errorf("first item = %s, want D1", id)
	}
}

func TestSelectEmptyPending(t *testing.T) {
	id, ok := SelectNextItem(nil, registry.AllItemIDs(), map[string]int{"D1": 3})
	if ok || id != "" {
		t.Errorf("SelectNextItem with empty pending = (%q, %v), want (\"\", false)", id, ok)
	}
}

func TestSelectPrioritizesHighSeverityDomain(t *testing.T) {
	pending := remove(registry.AllItemIDs(), "D1")

	// D1 scored 3: Depression is high-severity, so D2 comes before Anxiety.
	id, ok := SelectNextItem(pending, []string{"D1"}, map[string]int{"D1": 3})
	if !ok {
		t.Fatal("no item selected")
	}
	if id != "D2" {
		t.Errorf("next item = %s, want D2", id)
	}
}

func TestSelectFollowsRelatedDomains(t *testing.T) {
	// Both Depression items done with high scores. Related domains are
	// Anhedonia, Sleep, Energy, and Suicidal Ideation; in canonical order the
	// first pending priority item is SL1, skipping Anxiety and Panic.
	pending := remove(remove(registry.AllItemIDs(), "D1"), "D2")

	id, ok := SelectNextItem(pending, []string{"D1", "D2"}, map[string]int{"D1": 3, "D2": 3})
	if !ok {
		t.Fatal("no item selected")
	}
	if id != "SL1" {
		t.Errorf("next item = %s, want SL1", id)
	}
}

func TestSelectCanonicalOrderWhenNoSeverity(t *testing.T) {
	pending := remove(registry.AllItemIDs(), "D1")

	id, ok := SelectNextItem(pending, []string{"D1"}, map[string]int{"D1": 1})
	if !ok {
		t.Fatal("no item selected")
	}
	if id != "D2" {
		t.Errorf("next item = %s, want D2 by canonical order", id)
	}
}

func TestSelectSensitiveThreshold(t *testing.T) {
	// A Substance Use score of 1 reaches its lowered threshold, so SU2 and the
	// related Suicidal Ideation items outrank earlier canonical domains.
	pending := []string{"A1", "SU2", "SI1"}

	id, ok := SelectNextItem(pending, []string{"SU1"}, map[string]int{"SU1": 1})
	if !ok {
		t.Fatal("no item selected")
	}
	if id != "SU2" {
		t.Errorf("next item = %s, want SU2", id)
	}
}

func TestSelectIsDeterministic(t *testing.T) {
	pending := remove(registry.AllItemIDs(), "D1")
	completed := []string{"D1"}
	scores := map[string]int{"D1": 3}

	first, _ := SelectNextItem(pending, completed, scores)
	for i := 0; i < 50; i++ {
		got, _ := SelectNextItem(pending, completed, scores)
		if got != first {
			t.Fatalf("iteration %d: got %s, previous %s", i, got, first)
		}
	}
}

func TestSelectAlwaysReturnsPendingItem(t *testing.T) {
	pending := []string{"PS1", "T2"}
	id, ok := SelectNextItem(pending, []string{"D1"}, map[string]int{"D1": 4})
	if !ok {
		t.Fatal("no item selected")
	}
	if id != "PS1" && id != "T2" {
		t.Errorf("selected %s which is not pending", id)
	}
}

func remove(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
