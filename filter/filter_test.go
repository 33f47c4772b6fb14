package filter

import (
	"testing"
)

func TestFilter_Allows_IncludeMode(t *testing.T) {
	opts := Options{
		Include: []string{"**/*.pdf"},
	}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows("reports/2024/q1.pdf") {
		t.Error("Expected nested pdf to be allowed")
	}
	if !f.Allows("root.pdf") {
		t.Error("Expected root-level pdf to be allowed by **/ pattern")
	}
	if f.Allows("reports/notes.txt") {
		t.Error("Expected txt to be filtered out")
	}
}

func TestFilter_Allows_ExcludeMode(t *testing.T) {
	opts := Options{
		Exclude: []string{".git/**", "**/*.tmp"},
	}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows("docs/readme.md") {
		t.Error("Expected regular file to be allowed")
	}
	if f.Allows(".git/objects/ab/cdef") {
		t.Error("Expected .git content to be excluded")
	}
	if f.Allows("build/cache/x.tmp") {
		t.Error("Expected tmp file to be excluded")
	}
}

func TestFilter_SingleStarStaysInSegment(t *testing.T) {
	f, err := New(Options{Include: []string{"mail/*.eml"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows("mail/a.eml") {
		t.Error("Expected direct child to match")
	}
	if f.Allows("mail/archive/b.eml") {
		t.Error("Expected * not to cross a path separator")
	}
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	opts := Options{
		Include: []string{"*.txt"},
		Exclude: []string{"*.tmp"},
	}
	_, err := New(opts)
	if err == nil {
		t.Error("Expected error when both include and exclude are specified")
	}
}

func TestFilter_NoFilters(t *testing.T) {
	f, err := New(Options{Include: []string{"  ", ""}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f.Active() {
		t.Error("Expected blank patterns to be ignored")
	}
	if !f.Allows("anything/at/all.bin") {
		t.Error("Expected path to be allowed when no filters are active")
	}

	var nilFilter *Filter
	if !nilFilter.Allows("x") {
		t.Error("Expected nil filter to allow everything")
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	_, err := New(Options{Include: []string{"[unclosed"}})
	if err == nil {
		t.Error("Expected error for invalid glob")
	}
}

func TestFilter_NormalizesPath(t *testing.T) {
	f, err := New(Options{Include: []string{"docs/*.md"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !f.Allows("./docs/readme.md") {
		t.Error("Expected leading ./ to be ignored")
	}
	if !f.Allows(`docs\readme.md`) {
		t.Error("Expected backslash separators to be normalized")
	}
}
