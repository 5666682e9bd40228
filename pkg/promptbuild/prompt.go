package promptbuild

import (
	"fmt"
	"strings"

	"github.com/cosmoslabs/applyharness/pkg/suggestion"
)

// FileInput is one file's content fed into a generation prompt, alongside
// whether it's the primary (suggested) file or additional context pulled in
// via AdditionalFiles.
type FileInput struct {
	Path      string
	Content   string
	IsPrimary bool
}

// BuiltFile is a FileInput after excerpting, ready to render into a prompt.
type BuiltFile struct {
	FileInput
	Excerpt Excerpt
}

func hintTokensFor(s suggestion.Suggestion, preview suggestion.FixPreview, path string) []string {
	extras := append([]string{preview.Implementation}, preview.AffectedAreas...)
	if preview.EvidenceSnippet != "" {
		extras = append(extras, preview.EvidenceSnippet)
	}
	if preview.Modifier != "" {
		extras = append(extras, preview.Modifier)
	}
	return ExtractHintTokens(s.Description, s.Summary, path, extras...)
}

// BuildSingleFileFiles excerpts the one file named by a suggestion under
// DefaultSingleFileCharBudget.
func BuildSingleFileFiles(s suggestion.Suggestion, preview suggestion.FixPreview, file FileInput) BuiltFile {
	hints := hintTokensFor(s, preview, file.Path)
	excerpt := BuildExcerpt(file.Path, file.Content, preview.EvidenceLine, s.TargetLine, hints, DefaultSingleFileCharBudget)
	return BuiltFile{FileInput: file, Excerpt: excerpt}
}

// BuildMultiFileFiles excerpts every file in files under an even partition
// of DefaultMultiFileCharBudget, clamped per SPEC_FULL's 1..20k-per-file
// rule. Only the primary file is given the suggestion's evidence/target
// line; additional files anchor purely on hint-token scoring.
func BuildMultiFileFiles(s suggestion.Suggestion, preview suggestion.FixPreview, files []FileInput) []BuiltFile {
	perFileBudget := PartitionCharBudget(DefaultMultiFileCharBudget, len(files))
	out := make([]BuiltFile, 0, len(files))
	for _, f := range files {
		hints := hintTokensFor(s, preview, f.Path)
		var evidenceLine, targetLine int
		if f.IsPrimary {
			evidenceLine, targetLine = preview.EvidenceLine, s.TargetLine
		}
		excerpt := BuildExcerpt(f.Path, f.Content, evidenceLine, targetLine, hints, perFileBudget)
		out = append(out, BuiltFile{FileInput: f, Excerpt: excerpt})
	}
	return out
}

// RenderFile formats one built file as a labeled section for a prompt body,
// including the excerpt-shown notice and the Python guardrail when either
// applies.
func RenderFile(bf BuiltFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", bf.Path)
	if bf.Excerpt.Truncated {
		fmt.Fprintf(&b, "%s\n\n", bf.Excerpt.Notice)
	}
	b.WriteString("```\n")
	b.WriteString(bf.Excerpt.Content)
	if !strings.HasSuffix(bf.Excerpt.Content, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString("```\n")
	if IsPythonFile(bf.Path) {
		b.WriteString("\n" + PythonGuardrail() + "\n")
	}
	return b.String()
}

// QuickCheckRepairInput assembles the evidence a repair prompt needs: the
// failure summary and failing command output, the failing file's own
// snippet around the reported error line, and read-only excerpts of any
// other files the failure cited.
type QuickCheckRepairInput struct {
	FailureSummary string
	Command        string
	OutputTail     string
	FailingFile    string
	FailingContent string
	ErrorLine      int
	CitedFiles     []FileInput
	HintTokens     []string
}

const (
	repairOutputTailChars  = 4_000
	repairFailingFileChars = 4_000
	repairCitedFileChars   = 2_000
)

// BuildQuickCheckRepairPrompt renders the bounded repair context: verbatim
// failure summary, failing-file path, a bounded tail of command output, a
// focused excerpt of the failing file around the reported line, and
// read-only excerpts of any other cited files.
func BuildQuickCheckRepairPrompt(in QuickCheckRepairInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Quick-check failed: %s\n", in.FailureSummary)
	if in.Command != "" {
		fmt.Fprintf(&b, "Command: %s\n", in.Command)
	}
	if in.FailingFile != "" {
		fmt.Fprintf(&b, "Failing file: %s\n", in.FailingFile)
	}

	if tail := tailChars(in.OutputTail, repairOutputTailChars); tail != "" {
		b.WriteString("\nCommand output (tail):\n```\n")
		b.WriteString(tail)
		if !strings.HasSuffix(tail, "\n") {
			b.WriteByte('\n')
		}
		b.WriteString("```\n")
	}

	if in.FailingContent != "" {
		excerpt := BuildExcerpt(in.FailingFile, in.FailingContent, in.ErrorLine, in.ErrorLine, in.HintTokens, repairFailingFileChars)
		b.WriteString("\n")
		b.WriteString(RenderFile(BuiltFile{FileInput: FileInput{Path: in.FailingFile, Content: in.FailingContent, IsPrimary: true}, Excerpt: excerpt}))
	}

	for _, f := range in.CitedFiles {
		excerpt := BuildExcerpt(f.Path, f.Content, 0, 0, in.HintTokens, repairCitedFileChars)
		b.WriteString("\nRead-only context:\n")
		b.WriteString(RenderFile(BuiltFile{FileInput: f, Excerpt: excerpt}))
	}

	b.WriteString("\n" + excerptNotice + "\n")
	return b.String()
}

// tailChars keeps the last maxChars runes of s, so the model sees the part
// of a build/test log closest to the actual failure.
func tailChars(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[len(runes)-maxChars:])
}
