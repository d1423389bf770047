package device

import (
	"fmt"
	"testing"
)

// setupBenchRegistry creates a registry pre-populated with n peripherals.
func setupBenchRegistry(b *testing.B, n int) *Registry {
	b.Helper()
	reg := NewRegistry()
	for i := 0; i < n; i++ {
		rec := PeripheralRecord{
			Address:       fmt.Sprintf("00:00:00:00:%02X:%02X", i/256, i%256),
			Name:          fmt.Sprintf("Scanner %d", i),
			AlreadyBonded: i%5 == 0,
		}
		if _, err := reg.Upsert(rec); err != nil {
			b.Fatalf("upserting peripheral %d: %v", i, err)
		}
	}
	return reg
}

func BenchmarkRegistryUpsert_Existing(b *testing.B) {
	reg := setupBenchRegistry(b, 100)
	rec := PeripheralRecord{Address: "00:00:00:00:00:32", Name: "renamed"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.Upsert(rec) //nolint:errcheck // benchmark
	}
}

func BenchmarkRegistryFiltered(b *testing.B) {
	reg := setupBenchRegistry(b, 100)
	prefix := "Scanner 1"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.Filtered(func(r PeripheralRecord) bool { return r.MatchesPrefix(&prefix) })
	}
}

func BenchmarkRegistryGet_Parallel(b *testing.B) {
	reg := setupBenchRegistry(b, 100)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			reg.Get("00:00:00:00:00:32") //nolint:errcheck // benchmark
		}
	})
}
