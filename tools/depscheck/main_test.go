package main

import "testing"

func TestViolationsFlagsNonPureImports(t *testing.T) {
	pkgs := []packageInfo{
		{ImportPath: modulePath + "/internal/movement", Imports: []string{"math", modulePath + "/internal/geometry"}},
		{ImportPath: modulePath + "/internal/visibility", Imports: []string{"github.com/google/uuid", modulePath + "/internal/campaign"}},
	}
	got := violations(pkgs)
	if len(got) != 2 {
		t.Fatalf("expected two violations, got %v", got)
	}
	if got[0] != modulePath+"/internal/visibility -> dragons-keep/server/internal/campaign" {
		t.Fatalf("unexpected first violation %q", got[0])
	}
}

func TestRelativePatterns(t *testing.T) {
	patterns := relativePatterns()
	if len(patterns) != 3 || patterns[0] != "./internal/geometry/..." {
		t.Fatalf("unexpected patterns %v", patterns)
	}
}
