package quickcheck

import "testing"

func TestTargetFile_PrefersInScopeLocation(t *testing.T) {
	summary := "src/app.ts:12:5: Argument of type 'string' is not assignable."
	target, ok := TargetFile(summary, []string{"src/app.ts", "src/other.ts"}, []string{"src/app.ts"}, false)
	if !ok || target != "src/app.ts" {
		t.Fatalf("got %q ok=%v", target, ok)
	}
}

func TestTargetFile_FallsBackToSoleChangedFile(t *testing.T) {
	summary := "some generic failure with no location"
	target, ok := TargetFile(summary, []string{"src/only.ts"}, []string{"src/only.ts"}, false)
	if !ok || target != "src/only.ts" {
		t.Fatalf("got %q ok=%v", target, ok)
	}
}

func TestTargetFile_NoMatchWithoutRelaxedScope(t *testing.T) {
	summary := "src/outside.ts:1:1: some error"
	_, ok := TargetFile(summary, []string{"a.ts", "b.ts"}, []string{"a.ts"}, false)
	if ok {
		t.Fatal("expected no target when the error file is out of scope and there's more than one changed file")
	}
}

func TestFastPathCommand_Prettier(t *testing.T) {
	cmd, ok := FastPathCommand("Code style issues found in the above file(s). Run Prettier to fix.", "src/app.ts")
	if !ok || cmd != "npx prettier --write src/app.ts" {
		t.Fatalf("got %q ok=%v", cmd, ok)
	}
}

func TestFastPathCommand_ESLintFixable(t *testing.T) {
	cmd, ok := FastPathCommand("12:3  error  Missing semicolon  (potentially fixable with --fix)", "src/app.ts")
	if !ok || cmd != "npx eslint --fix src/app.ts" {
		t.Fatalf("got %q ok=%v", cmd, ok)
	}
}

func TestFastPathCommand_NoMatch(t *testing.T) {
	if _, ok := FastPathCommand("some unrelated type error", "src/app.ts"); ok {
		t.Fatal("expected no fast path for a non-formatting failure")
	}
}
