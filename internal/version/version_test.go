package version

import "testing"

func TestStrings(t *testing.T) {
	if got := String(); got != "dev (unknown) built unknown" {
		t.Errorf("String() = %q", got)
	}
	if got := UserAgent(); got != "retriever/dev" {
		t.Errorf("UserAgent() = %q", got)
	}
	if got := Get(); got.Version != Version || got.Commit != Commit {
		t.Errorf("Get() = %+v", got)
	}
}
