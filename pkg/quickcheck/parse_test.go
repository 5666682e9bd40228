package quickcheck

import "testing"

func TestParseTscErrorLine(t *testing.T) {
	loc, ok := parseTscErrorLine("src/app.ts(12,5): error TS2345: Argument of type 'string' is not assignable.")
	if !ok {
		t.Fatal("expected a match")
	}
	if loc.File != "src/app.ts" || loc.Line != 12 || loc.Column != 5 {
		t.Fatalf("got %+v", loc)
	}
}

func TestParseColonErrorLineWithMessage(t *testing.T) {
	loc, ok := parseColonErrorLineWithMessage("./pages/index.tsx:10:3: Type error: x is possibly undefined")
	if !ok {
		t.Fatal("expected a match")
	}
	if loc.File != "pages/index.tsx" || loc.Line != 10 || loc.Column != 3 {
		t.Fatalf("got %+v", loc)
	}
}

func TestParseRustLocationLine(t *testing.T) {
	loc, ok := parseRustLocationLine(" --> src/main.rs:42:9")
	if !ok {
		t.Fatal("expected a match")
	}
	if loc.File != "src/main.rs" || loc.Line != 42 || loc.Column != 9 {
		t.Fatalf("got %+v", loc)
	}
}

func TestParseRustLocationLine_RejectsNonRustExtension(t *testing.T) {
	if _, ok := parseRustLocationLine(" --> src/main.go:42:9"); ok {
		t.Fatal("expected no match for a non-.rs path")
	}
}

func TestStripQuickCheckSubtaskPrefix(t *testing.T) {
	got := stripQuickCheckSubtaskPrefix(". test:lint: 12:3  error  no-unused-vars")
	if got != "12:3  error  no-unused-vars" {
		t.Fatalf("got %q", got)
	}
}

func TestParseBracketedPathLine(t *testing.T) {
	loc, ok := parseBracketedPathLine("[warn] src/app.ts")
	if !ok || loc.File != "src/app.ts" {
		t.Fatalf("got %+v ok=%v", loc, ok)
	}
}

func TestParsePythonFileLine(t *testing.T) {
	loc, ok := parsePythonFileLine(`  File "pkg/mod.py", line 14`)
	if !ok || loc.File != "pkg/mod.py" || loc.Line != 14 {
		t.Fatalf("got %+v ok=%v", loc, ok)
	}
}

func TestSummarizeFailure_TscError(t *testing.T) {
	out := SummarizeFailure("", "src/app.ts(12,5): error TS2345: Argument of type 'string' is not assignable.\n")
	want := "src/app.ts:12:5: Argument of type 'string' is not assignable."
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestSummarizeFailure_NextJSTypeError(t *testing.T) {
	out := SummarizeFailure("", "./pages/index.tsx:10:3\nType error: x is possibly undefined\n")
	want := "pages/index.tsx:10:3: Type error: x is possibly undefined"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestSummarizeFailure_RustError(t *testing.T) {
	stderr := "error[E0308]: mismatched types\n --> src/main.rs:42:9\n  |\n"
	out := SummarizeFailure(stderr, "")
	want := "src/main.rs:42:9: error[E0308]: mismatched types"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestSummarizeFailure_FallsBackToScoredLine(t *testing.T) {
	out := SummarizeFailure("", "Checking dependencies\nTypeError: cannot read property 'x' of undefined\nDone\n")
	if out != "TypeError: cannot read property 'x' of undefined" {
		t.Fatalf("got %q", out)
	}
}

func TestFingerprint_NormalizesDigitsAndWhitespace(t *testing.T) {
	a := Fingerprint("src/app.ts:12:5: Argument of type 'string' is not assignable.")
	b := Fingerprint("src/app.ts:13:6:   Argument of type 'string' is not assignable.")
	if a != b {
		t.Fatalf("expected fingerprints to match after digit/whitespace normalization, got %q vs %q", a, b)
	}
}

func TestFingerprint_DifferentMessagesDiffer(t *testing.T) {
	a := Fingerprint("src/app.ts:12:5: Argument of type 'string' is not assignable.")
	b := Fingerprint("src/app.ts:12:5: Cannot find name 'foo'.")
	if a == b {
		t.Fatal("expected different messages to produce different fingerprints")
	}
}

func TestRepairHint_RustQuestionMarkOperator(t *testing.T) {
	hint, ok := RepairHint("error[E0277]: the `?` operator can only be used in a function that returns `Result`")
	if !ok || hint == "" {
		t.Fatal("expected a hint for the ? operator failure shape")
	}
}

func TestRepairHint_NoMatch(t *testing.T) {
	if _, ok := RepairHint("some unrelated failure"); ok {
		t.Fatal("expected no hint for an unrecognized failure shape")
	}
}
