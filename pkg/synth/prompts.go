package synth

import (
	"fmt"
	"strings"

	"github.com/cosmoslabs/applyharness/pkg/promptbuild"
	"github.com/cosmoslabs/applyharness/pkg/suggestion"
)

const synthSystemPrompt = "You are an expert software engineer applying a single, well-scoped improvement " +
	"to an existing codebase. Respond only with the requested structured JSON. Every old_string must be " +
	"copied verbatim from the shown file content; never paraphrase or summarize code into an edit anchor."

// buildPlanText renders a fix preview's plain-language framing into the
// paragraph every generation prompt opens with.
func buildPlanText(preview suggestion.FixPreview) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", preview.Title)
	fmt.Fprintf(&b, "Problem: %s\n", preview.ProblemSummary)
	fmt.Fprintf(&b, "Outcome: %s\n", preview.Outcome)
	if preview.VerificationNote != "" {
		fmt.Fprintf(&b, "Verification note: %s\n", preview.VerificationNote)
	}
	fmt.Fprintf(&b, "Implementation: %s\n", preview.Implementation)
	if len(preview.AffectedAreas) > 0 {
		fmt.Fprintf(&b, "Affected areas: %s\n", strings.Join(preview.AffectedAreas, ", "))
	}
	if preview.Modifier != "" {
		fmt.Fprintf(&b, "\nFeedback from a previous attempt:\n%s\n", preview.Modifier)
	}
	return b.String()
}

// buildSingleFileSystemAndUser renders the system and user prompt for one
// generation attempt against a single file. preferFullPrompt sends the
// whole file unbounded instead of the default excerpt budget, once an
// earlier attempt's failure suggests the excerpt hid the anchor the model
// needed. repairNote, when non-empty, is appended as guidance from the
// previous attempt's failure.
func buildSingleFileSystemAndUser(p SingleFileParams, preferFullPrompt bool, repairNote string) (string, string) {
	fileInput := promptbuild.FileInput{Path: p.File.Path, Content: p.File.Content, IsPrimary: true}

	var built promptbuild.BuiltFile
	if preferFullPrompt {
		built = promptbuild.BuiltFile{FileInput: fileInput, Excerpt: promptbuild.Excerpt{Content: p.File.Content}}
	} else {
		built = promptbuild.BuildSingleFileFiles(p.Suggestion, p.Preview, fileInput)
	}

	var b strings.Builder
	b.WriteString(buildPlanText(p.Preview))
	b.WriteString("\n")
	b.WriteString(promptbuild.RenderFile(built))

	if repairNote != "" {
		b.WriteString("\n")
		b.WriteString(repairNote)
	}

	b.WriteString("\nRespond with the modified_areas and the search/replace edits needed to implement this change in " + p.File.Path + ".\n")
	return synthSystemPrompt, b.String()
}

// buildMultiFileSystemAndUser renders the system and user prompt for one
// multi-file generation attempt, budget-partitioning every cited file under
// DefaultMultiFileCharBudget unless an earlier failure asked for the full
// files.
func buildMultiFileSystemAndUser(p MultiFileParams, preferFullPrompt bool, repairNote string) (string, string) {
	inputs := make([]promptbuild.FileInput, len(p.Files))
	for i, f := range p.Files {
		inputs[i] = promptbuild.FileInput{Path: f.Path, Content: f.Content, IsPrimary: f.Path == p.Suggestion.File}
	}

	var built []promptbuild.BuiltFile
	if preferFullPrompt {
		built = make([]promptbuild.BuiltFile, len(inputs))
		for i, in := range inputs {
			built[i] = promptbuild.BuiltFile{FileInput: in, Excerpt: promptbuild.Excerpt{Content: in.Content}}
		}
	} else {
		built = promptbuild.BuildMultiFileFiles(p.Suggestion, p.Preview, inputs)
	}

	var b strings.Builder
	b.WriteString(buildPlanText(p.Preview))
	b.WriteString("\n")
	for _, bf := range built {
		b.WriteString(promptbuild.RenderFile(bf))
		b.WriteString("\n")
	}

	if repairNote != "" {
		b.WriteString(repairNote)
		b.WriteString("\n")
	}

	var paths []string
	for _, f := range p.Files {
		paths = append(paths, f.Path)
	}
	fmt.Fprintf(&b, "\nRespond with file_edits grouped by file, covering only these files: %s. "+
		"Every edit's old_string must be copied verbatim from the file it targets.\n", strings.Join(paths, ", "))
	return synthSystemPrompt, b.String()
}
