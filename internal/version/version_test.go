package version

import "testing"

func TestString(t *testing.T) {
	oldVersion, oldCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = oldVersion, oldCommit })

	Version, Commit = "", ""
	if got := String(); got != "dev" {
		t.Fatalf("String() = %q, want dev", got)
	}
	Commit = "abc123"
	if got := String(); got != "dev-abc123" {
		t.Fatalf("String() = %q, want dev-abc123", got)
	}
	Version = "v1.0.0"
	if got := String(); got != "v1.0.0" {
		t.Fatalf("String() = %q, want v1.0.0", got)
	}
	if Current().Version != "v1.0.0" || Current().Go == "" {
		t.Fatalf("Current() = %+v", Current())
	}
}
