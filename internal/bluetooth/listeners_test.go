package bluetooth

import (
	"sync"
	"testing"
)

func TestListeners_KindFilter(t *testing.T) {
	var ls Listeners
	var bondEvents, allEvents int

	ls.Add(func(Event) { bondEvents++ }, EventBondState)
	ls.Add(func(Event) { allEvents++ })

	ls.Emit(Event{Kind: EventBondState})
	ls.Emit(Event{Kind: EventDeviceFound})
	ls.Emit(Event{Kind: EventRadioState})

	if bondEvents != 1 {
		t.Errorf("bond handler calls = %d, want 1", bondEvents)
	}
	if allEvents != 3 {
		t.Errorf("catch-all handler calls = %d, want 3", allEvents)
	}
}

func TestListeners_UnsubscribeIdempotent(t *testing.T) {
	var ls Listeners
	calls := 0
	sub := ls.Add(func(Event) { calls++ })

	sub.Unsubscribe()
	sub.Unsubscribe()
	ls.Emit(Event{Kind: EventDeviceFound})

	if calls != 0 {
		t.Errorf("calls after unsubscribe = %d, want 0", calls)
	}
	if ls.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ls.Len())
	}
}

func TestListeners_HandlerMayUnsubscribeItself(t *testing.T) {
	var ls Listeners
	var sub Subscription
	calls := 0
	sub = ls.Add(func(Event) {
		calls++
		sub.Unsubscribe()
	})

	ls.Emit(Event{Kind: EventBondState})
	ls.Emit(Event{Kind: EventBondState})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestListeners_Concurrent(t *testing.T) {
	var ls Listeners
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ls.Add(func(Event) {}).Unsubscribe()
		}()
		go func() {
			defer wg.Done()
			ls.Emit(Event{Kind: EventDeviceFound})
		}()
	}
	wg.Wait()

	if ls.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ls.Len())
	}
}

func TestValidAddress(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"00:11:22:AA:bb:FF", true},
		{"00:11:22:33:44", false},
		{"00-11-22-33-44-55", false},
		{"", false},
		{"GG:11:22:33:44:55", false},
	}
	for _, tt := range tests {
		if got := ValidAddress(tt.in); got != tt.want {
			t.Errorf("ValidAddress(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBondState_String(t *testing.T) {
	if BondBonded.String() != "bonded" || BondState(9).String() != "BondState(9)" {
		t.Errorf("unexpected String() output: %s %s", BondBonded, BondState(9))
	}
}
