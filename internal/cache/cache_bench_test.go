package cache

import "testing"

// BenchmarkResultCache_Get_Hit benchmarks Get on a fresh entry.
func BenchmarkResultCache_Get_Hit(b *testing.B) {
	c := NewResultCache(DefaultTTL)
	c.Put("广东省-深圳市-南山区", testResult("南山区"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Get("广东省-深圳市-南山区")
	}
}

// BenchmarkResultCache_Get_Miss benchmarks Get on an absent key.
func BenchmarkResultCache_Get_Miss(b *testing.B) {
	c := NewResultCache(DefaultTTL)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Get("nonexistent")
	}
}

// BenchmarkResultCache_Put benchmarks overwriting a single key.
func BenchmarkResultCache_Put(b *testing.B) {
	c := NewResultCache(DefaultTTL)
	val := testResult("南山区")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Put("广东省-深圳市-南山区", val)
	}
}
