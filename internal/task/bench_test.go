package task

import (
	"context"
	"fmt"
	"testing"
)

// BenchmarkRegistry_Cycle measures add, complete, collect and ack of a
// full registry.
func BenchmarkRegistry_Cycle(b *testing.B) {
	descs := make([]Descriptor, DefaultCapacity)
	for i := range descs {
		descs[i] = Descriptor{UID: fmt.Sprintf("t%d", i), Type: string(KindSystem)}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r := NewRegistry(DefaultCapacity)
		for _, d := range descs {
			t, _ := New(context.Background(), d)
			r.Add(t) //nolint:errcheck
			t.Complete("ok", true)
		}
		r.Collect()
		r.Ack(r.Batch())
	}
}
