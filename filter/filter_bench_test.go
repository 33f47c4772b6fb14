package filter

import (
	"testing"
)

// BenchmarkFilter_Allows_NoFilters benchmarks the filter when no filters are active
func BenchmarkFilter_Allows_NoFilters(b *testing.B) {
	f, err := New(Options{})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows("reports/2024/q1/summary.pdf")
	}
}

// BenchmarkFilter_Allows_WithIncludeFilter benchmarks the filter with include patterns
func BenchmarkFilter_Allows_WithIncludeFilter(b *testing.B) {
	f, err := New(Options{
		Include: []string{"**/*.pdf"},
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows("reports/2024/q1/summary.pdf")
	}
}

// BenchmarkFilter_Allows_MultiplePatterns benchmarks with several exclude globs
func BenchmarkFilter_Allows_MultiplePatterns(b *testing.B) {
	f, err := New(Options{
		Exclude: []string{
			".git/**",
			"**/node_modules/**",
			"**/*.{tmp,bak,swp}",
		},
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows("reports/2024/q1/summary.pdf")
	}
}
