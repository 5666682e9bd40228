package diffstat

import "testing"

func TestCompute_NewFileCountsEveryLine(t *testing.T) {
	summary := Compute([]FileInput{
		{Path: "new.go", Current: "package foo\n\nfunc A() {}\n", IsNew: true},
	})
	if summary.TotalChangedLines != 3 {
		t.Fatalf("TotalChangedLines = %d, want 3", summary.TotalChangedLines)
	}
}

func TestCompute_TrackedFileCountsOnlyChangedLines(t *testing.T) {
	original := "package foo\n\nfunc A() {\n\treturn 1\n}\n"
	current := "package foo\n\nfunc A() {\n\treturn 2\n}\n"
	summary := Compute([]FileInput{{Path: "a.go", Original: original, Current: current}})
	if summary.TotalChangedLines != 2 {
		t.Fatalf("TotalChangedLines = %d, want 2 (one removed, one added)", summary.TotalChangedLines)
	}
}

func TestCompute_UnchangedFileCountsZero(t *testing.T) {
	content := "package foo\n"
	summary := Compute([]FileInput{{Path: "a.go", Original: content, Current: content}})
	if summary.TotalChangedLines != 0 {
		t.Fatalf("TotalChangedLines = %d, want 0", summary.TotalChangedLines)
	}
}

func TestSummary_PerFileExceeded(t *testing.T) {
	summary := Compute([]FileInput{
		{Path: "big.go", Current: "a\nb\nc\nd\n", IsNew: true},
		{Path: "small.go", Current: "a\n", IsNew: true},
	})
	exceeded := summary.PerFileExceeded(2)
	if len(exceeded) != 1 || exceeded[0] != "big.go" {
		t.Fatalf("got %v", exceeded)
	}
}
