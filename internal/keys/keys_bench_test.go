package keys

import "testing"

func BenchmarkFor(b *testing.B) {
	b.ReportAllocs()
	var sink Queue
	for i := 0; i < b.N; i++ {
		sink = For("offlineQueue")
	}
	_ = sink
}

func BenchmarkIndex(b *testing.B) {
	q := For("offlineQueue")
	b.ReportAllocs()
	var s string
	for i := 0; i < b.N; i++ {
		s = q.Index("failed")
	}
	_ = s
}
