package editapply

import (
	"strings"
	"testing"

	harnesserrors "github.com/cosmoslabs/applyharness/pkg/errors"
)

func TestApply_SingleUniqueMatch(t *testing.T) {
	content := "func main() {\n\tfmt.Println(\"hi\")\n}\n"
	edits := []Op{{OldString: "fmt.Println(\"hi\")", NewString: "fmt.Println(\"bye\")"}}

	got, err := Apply(content, edits, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := "func main() {\n\tfmt.Println(\"bye\")\n}\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestApply_EmptyOldStringOnEmptyContent(t *testing.T) {
	got, err := Apply("", []Op{{OldString: "", NewString: "package main\n"}}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != "package main\n" {
		t.Errorf("got %q", got)
	}
}

func TestApply_EmptyOldStringOnNonEmptyContentFails(t *testing.T) {
	_, err := Apply("existing", []Op{{OldString: "", NewString: "x"}}, 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if harnesserrors.GetCode(err) != harnesserrors.ErrCodeEditInvalid {
		t.Errorf("code = %v, want %v", harnesserrors.GetCode(err), harnesserrors.ErrCodeEditInvalid)
	}
}

func TestApply_NotFound(t *testing.T) {
	_, err := Apply("line one\nline two\n", []Op{{OldString: "line three", NewString: "x"}}, 2)
	if err == nil {
		t.Fatal("expected error")
	}
	if harnesserrors.GetCode(err) != harnesserrors.ErrCodeEditNotFound {
		t.Errorf("code = %v, want %v", harnesserrors.GetCode(err), harnesserrors.ErrCodeEditNotFound)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error message = %q, want to mention not found", err.Error())
	}
}

func TestApply_AmbiguousWithoutTargetLine(t *testing.T) {
	content := "x := 1\ny := 2\nx := 1\n"
	_, err := Apply(content, []Op{{OldString: "x := 1", NewString: "x := 9"}}, 0)
	if err == nil {
		t.Fatal("expected ambiguous error")
	}
	if harnesserrors.GetCode(err) != harnesserrors.ErrCodeEditAmbiguous {
		t.Errorf("code = %v, want %v", harnesserrors.GetCode(err), harnesserrors.ErrCodeEditAmbiguous)
	}
}

func TestApply_AmbiguousResolvedByTargetLine(t *testing.T) {
	content := "x := 1\ny := 2\nx := 1\nz := 3\n"
	// The second occurrence is on line 3; targetLine=3 should pick it uniquely.
	got, err := Apply(content, []Op{{OldString: "x := 1", NewString: "x := 9"}}, 3)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := "x := 1\ny := 2\nx := 9\nz := 3\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestApply_AmbiguousTieNotResolved(t *testing.T) {
	// Two matches equidistant from targetLine=2 (lines 1 and 3).
	content := "x := 1\ny := 2\nx := 1\n"
	_, err := Apply(content, []Op{{OldString: "x := 1", NewString: "x := 9"}}, 2)
	if err == nil {
		t.Fatal("expected ambiguous error on tie")
	}
	if harnesserrors.GetCode(err) != harnesserrors.ErrCodeEditAmbiguous {
		t.Errorf("code = %v, want %v", harnesserrors.GetCode(err), harnesserrors.ErrCodeEditAmbiguous)
	}
}

func TestApply_CRLFFallback(t *testing.T) {
	content := "func main() {\r\n\tdoThing()\r\n}\r\n"
	edits := []Op{{OldString: "\tdoThing()\n", NewString: "\tdoOtherThing()\n"}}

	got, err := Apply(content, edits, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !strings.Contains(got, "doOtherThing()\r\n") {
		t.Errorf("got %q, want CRLF-normalized replacement", got)
	}
}

func TestApply_WhitespaceTrimFallback(t *testing.T) {
	content := "func main() {\n\tfmt.Println(\"hi\")\n}\n"
	// old_string has extra leading/trailing whitespace the model added.
	edits := []Op{{OldString: "  fmt.Println(\"hi\")  ", NewString: "fmt.Println(\"bye\")"}}

	got, err := Apply(content, edits, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !strings.Contains(got, "fmt.Println(\"bye\")") {
		t.Errorf("got %q", got)
	}
}

func TestApply_MultipleEditsInOrder(t *testing.T) {
	content := "a\nb\nc\n"
	edits := []Op{
		{OldString: "a\n", NewString: "A\n"},
		{OldString: "c\n", NewString: "C\n"},
	}
	got, err := Apply(content, edits, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != "A\nb\nC\n" {
		t.Errorf("got %q", got)
	}
}

func TestValidate_RejectsPlaceholderEllipsis(t *testing.T) {
	edits := []Op{{OldString: "func foo() {\n  ...\n}", NewString: "x"}}
	if err := Validate(edits, "file"); err == nil {
		t.Fatal("expected placeholder rejection")
	} else if harnesserrors.GetCode(err) != harnesserrors.ErrCodeEditInvalid {
		t.Errorf("code = %v", harnesserrors.GetCode(err))
	}
}

func TestValidate_AllowsSpreadSyntax(t *testing.T) {
	edits := []Op{{OldString: "call(...args)", NewString: "call(...args, extra)"}}
	if err := Validate(edits, "file"); err != nil {
		t.Errorf("spread syntax should not be treated as a placeholder: %v", err)
	}
}

func TestValidate_RejectsDelimiterOnlyAnchor(t *testing.T) {
	edits := []Op{{OldString: "}", NewString: "}\n"}}
	if err := Validate(edits, "file"); err == nil {
		t.Fatal("expected delimiter-only rejection")
	}

	edits = []Op{{OldString: "};", NewString: "} ;"}}
	if err := Validate(edits, "file"); err == nil {
		t.Fatal("expected delimiter-only rejection for '};'")
	}
}

func TestValidate_AllowsRealCode(t *testing.T) {
	edits := []Op{{OldString: "func helper(x int) int {\n\treturn x + 1\n}", NewString: "y"}}
	if err := Validate(edits, "file"); err != nil {
		t.Errorf("unexpected rejection: %v", err)
	}
}

func TestNormalizeTrailingNewline(t *testing.T) {
	cases := []struct {
		name     string
		original string
		content  string
		isNew    bool
		want     string
	}{
		{"adds missing trailing newline", "a\n", "a", false, "a\n"},
		{"preserves crlf newline", "a\r\n", "a", false, "a\r\n"},
		{"strips extra trailing newline", "a", "a\n\n", false, "a"},
		{"new file untouched", "", "a", true, "a"},
		{"already matches", "a\n", "a\n", false, "a\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeTrailingNewline(tc.original, tc.content, tc.isNew)
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
