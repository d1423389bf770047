package device

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func addresses(recs []PeripheralRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Address
	}
	return out
}

func TestRegistryUpsert(t *testing.T) {
	reg := NewRegistry()

	added, err := reg.Upsert(PeripheralRecord{Address: "aa:bb:cc:00:11:22", Name: "S700"})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !added {
		t.Error("first Upsert() added = false, want true")
	}

	added, err = reg.Upsert(PeripheralRecord{Address: "AA:BB:CC:00:11:22", Name: "Socket S700", AlreadyBonded: true})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if added {
		t.Error("second Upsert() added = true, want false")
	}

	got, err := reg.Get("aa:bb:cc:00:11:22")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := PeripheralRecord{Address: "AA:BB:CC:00:11:22", Name: "Socket S700", AlreadyBonded: true}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}

func TestRegistryUpsert_EmptyAddress(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Upsert(PeripheralRecord{Name: "nameless"}); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("Upsert() error = %v, want ErrInvalidRecord", err)
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Get("AA:BB:CC:00:11:22"); !errors.Is(err, ErrPeripheralNotFound) {
		t.Errorf("Get() error = %v, want ErrPeripheralNotFound", err)
	}
	if reg.Contains("AA:BB:CC:00:11:22") {
		t.Error("Contains() = true for unknown address")
	}
}

func TestRegistrySnapshot_FirstDiscoveryOrder(t *testing.T) {
	reg := NewRegistry()
	for _, a := range []string{"00:00:00:00:00:03", "00:00:00:00:00:01", "00:00:00:00:00:02"} {
		reg.Upsert(PeripheralRecord{Address: a}) //nolint:errcheck // valid addresses
	}
	// Rediscovery must not move the record.
	reg.Upsert(PeripheralRecord{Address: "00:00:00:00:00:03", Name: "renamed"}) //nolint:errcheck // valid address

	snap := reg.Snapshot()
	want := []string{"00:00:00:00:00:03", "00:00:00:00:00:01", "00:00:00:00:00:02"}
	got := addresses(snap)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Snapshot() order = %v, want %v", got, want)
	}
	if snap[0].Name != "renamed" {
		t.Errorf("Snapshot()[0].Name = %q, want renamed", snap[0].Name)
	}

	// Mutating the snapshot must not touch the registry.
	snap[0].Name = "mutated"
	if got, _ := reg.Get("00:00:00:00:00:03"); got.Name != "renamed" {
		t.Errorf("registry record changed through snapshot: %q", got.Name)
	}
}

func TestRegistryClear(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(PeripheralRecord{Address: "00:00:00:00:00:01"}) //nolint:errcheck // valid address
	reg.Clear()

	if reg.Len() != 0 || len(reg.Snapshot()) != 0 {
		t.Errorf("after Clear() Len = %d, Snapshot = %v", reg.Len(), reg.Snapshot())
	}

	// Order is rebuilt from scratch after a clear.
	added, _ := reg.Upsert(PeripheralRecord{Address: "00:00:00:00:00:01"})
	if !added {
		t.Error("Upsert() after Clear() added = false, want true")
	}
}

func TestPeripheralRecordMatchesPrefix(t *testing.T) {
	socket := "Socket"
	lower := "socket"
	empty := ""

	tests := []struct {
		name   string
		rec    PeripheralRecord
		prefix *string
		want   bool
	}{
		{"nil prefix passes unbonded", PeripheralRecord{Name: "Anything"}, nil, true},
		{"nil prefix rejects bonded", PeripheralRecord{Name: "Anything", AlreadyBonded: true}, nil, false},
		{"prefix match", PeripheralRecord{Name: "Socket S700"}, &socket, true},
		{"prefix is case-sensitive", PeripheralRecord{Name: "Socket S700"}, &lower, false},
		{"prefix mismatch", PeripheralRecord{Name: "Zebra"}, &socket, false},
		{"prefix match but bonded", PeripheralRecord{Name: "Socket S700", AlreadyBonded: true}, &socket, false},
		{"empty prefix passes", PeripheralRecord{Name: ""}, &empty, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.MatchesPrefix(tt.prefix); got != tt.want {
				t.Errorf("MatchesPrefix() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				reg.Upsert(PeripheralRecord{Address: fmt.Sprintf("00:00:00:00:%02X:%02X", n, j)}) //nolint:errcheck // valid address
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = reg.Snapshot()
				_ = reg.Len()
			}
		}()
	}
	wg.Wait()

	if reg.Len() != 500 {
		t.Errorf("Len() = %d, want 500", reg.Len())
	}
}
