package transport

import "testing"

func TestEndpointSelectorRoundRobinCycles(t *testing.T) {
	sel, err := NewEndpointSelector([]string{"a", "b", "c"}, StrategyRoundRobin)
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}
	var got []string
	for range 5 {
		ep, err := sel.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, ep)
	}
	want := []string{"a", "b", "c", "a", "b"}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("index %d: got %s, want %s", i, got[i], w)
		}
	}
}

func TestEndpointSelectorStickyStaysOnSuccessThenRotatesOnFailure(t *testing.T) {
	sel, err := NewEndpointSelector([]string{"a", "b"}, StrategySticky)
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}
	sel.MarkSuccess("b")
	ep, err := sel.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ep != "b" {
		t.Fatalf("expected sticky endpoint b, got %s", ep)
	}

	sel.MarkFailure("b")
	ep, err = sel.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ep != "a" {
		t.Fatalf("expected fallback to first endpoint after failure, got %s", ep)
	}
}

func TestEndpointSelectorRejectsEmptyList(t *testing.T) {
	if _, err := NewEndpointSelector(nil, StrategyRoundRobin); err == nil {
		t.Fatal("expected error for empty endpoint list")
	}
}
