// Package sandbox provides an attempt-scoped, guaranteed-cleanup working
// copy of a repository for the implementation harness (C2). It layers
// go-git worktree management (grounded on the teacher's ralph package)
// under a safe relative-path API and a restricted subprocess environment
// (grounded on the teacher's command-sandbox env allowlist).
package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/google/uuid"
)

// Sandbox is a scoped acquisition of a writable copy of the repository,
// rooted at the commit current when it was created. Every Sandbox must be
// released via Close — callers defer it immediately after New returns.
type Sandbox struct {
	id       string
	repoRoot string // the real repository the sandbox was cloned from
	root     string // the sandbox's own filesystem root
	worktree bool   // true if root is a git worktree of repoRoot
}

// New creates a sandbox rooted at a fresh git worktree of repoRoot (or, if
// repoRoot is not a git repository, a plain directory holding a copy of its
// files). The
// returned Sandbox must be released with Close regardless of what the
// caller does with it afterward.
func New(ctx context.Context, repoRoot string) (*Sandbox, error) {
	repoRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve repo root: %w", err)
	}

	id := uuid.NewString()
	worktreesDir := filepath.Join(repoRoot, ".cosmos", "apply_harness", "sandboxes")
	if err := os.MkdirAll(worktreesDir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create sandbox root: %w", err)
	}
	path := filepath.Join(worktreesDir, id)

	sb := &Sandbox{id: id, repoRoot: repoRoot, root: path}

	if isGitRepo(repoRoot) {
		if err := createWorktree(ctx, repoRoot, path, "apply-harness/"+id); err != nil {
			return nil, fmt.Errorf("sandbox: create worktree: %w", err)
		}
		sb.worktree = true
		return sb, nil
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create fresh directory: %w", err)
	}
	if err := copyTree(repoRoot, path); err != nil {
		_ = os.RemoveAll(path)
		return nil, fmt.Errorf("sandbox: seed fresh directory: %w", err)
	}
	return sb, nil
}

// ID returns the sandbox's unique identifier, used to correlate log lines
// and diagnostics records with a specific attempt's working copy.
func (s *Sandbox) ID() string { return s.id }

// Root returns the sandbox's filesystem root path.
func (s *Sandbox) Root() string { return s.root }

// EnvOverrides returns the environment variables subprocess invocations
// inside the sandbox should run with, disabling interactive prompts that
// would otherwise hang an unattended harness run.
func (s *Sandbox) EnvOverrides() []string {
	return append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_EDITOR=true",
		"CI=true",
		"npm_config_yes=true",
	)
}

// ResolveRepoPathAllowNew canonicalizes rel against the sandbox root and
// verifies containment, allowing rel to name a path that does not yet
// exist (for new-file writes). It rejects absolute paths and any ".."
// traversal component, and re-checks containment after canonicalizing
// existing ancestors — closing the symlink-escape gap a naive
// strings.HasPrefix check would miss.
func (s *Sandbox) ResolveRepoPathAllowNew(rel string) (string, error) {
	if !isSafeRelativePath(rel) {
		return "", fmt.Errorf("sandbox: unsafe relative path %q", rel)
	}

	abs := filepath.Join(s.root, rel)

	// Canonicalize the deepest existing ancestor directory to catch a
	// symlink that would otherwise resolve outside the sandbox root.
	dir := filepath.Dir(abs)
	resolvedDir, err := resolveExistingAncestor(dir)
	if err != nil {
		return "", fmt.Errorf("sandbox: resolve ancestor of %q: %w", rel, err)
	}

	resolvedRoot, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		resolvedRoot = s.root
	}

	if !withinRoot(resolvedRoot, resolvedDir) {
		return "", fmt.Errorf("sandbox: path %q escapes sandbox root", rel)
	}

	return filepath.Join(resolvedDir, filepath.Base(abs)), nil
}

// ModifiedFiles returns the repo-relative paths of every file with
// uncommitted changes (staged or unstaged) in the sandbox, plus untracked
// files. Only meaningful for git-backed sandboxes; fresh-directory
// sandboxes report changes as everything under root.
func (s *Sandbox) ModifiedFiles() ([]string, error) {
	if !s.worktree {
		return walkAllFiles(s.root)
	}

	repo, err := git.PlainOpen(s.root)
	if err != nil {
		return nil, fmt.Errorf("sandbox: open worktree repo: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("sandbox: get worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("sandbox: get status: %w", err)
	}

	var files []string
	for file, st := range status {
		if st.Staging != git.Unmodified || st.Worktree != git.Unmodified {
			files = append(files, file)
		}
	}
	return files, nil
}

// Close releases the sandbox unconditionally: on success, failure, or
// panic recovery the working copy must not leak onto disk.
func (s *Sandbox) Close() error {
	if s.worktree {
		removeWorktree(s.repoRoot, s.root)
	}
	return os.RemoveAll(s.root)
}

func isGitRepo(path string) bool {
	_, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	return err == nil
}

func createWorktree(ctx context.Context, repoRoot, path, branch string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	// go-git v5 has no full worktree-add support; shell out the way the
	// teacher's ralph.SandboxManager does, even when a repo handle could
	// be opened with go-git for other operations.
	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, path, "HEAD")
	cmd.Dir = repoRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git worktree add: %w\n%s", err, out)
	}
	return nil
}

func removeWorktree(repoRoot, path string) {
	cmd := exec.Command("git", "worktree", "remove", "--force", path)
	cmd.Dir = repoRoot
	_, _ = cmd.CombinedOutput() // best-effort; the worktree may already be gone
}

func isSafeRelativePath(rel string) bool {
	if rel == "" {
		return false
	}
	if filepath.IsAbs(rel) {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(filepath.Clean(rel)), "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

func resolveExistingAncestor(dir string) (string, error) {
	cur := dir
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			rel, err := filepath.Rel(cur, dir)
			if err != nil {
				return "", err
			}
			return filepath.Join(resolved, rel), nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return dir, nil
		}
		cur = parent
	}
}

func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func walkAllFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files, err
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}

// ShellCommand builds an *exec.Cmd for command rooted at the sandbox and
// carrying its environment overrides, using the platform shell and
// process-group conventions from exec_unix.go / exec_windows.go. Callers
// (notably the quick-check runner) attach their own timeout via ctx.
func (s *Sandbox) ShellCommand(ctx context.Context, command string) *exec.Cmd {
	cmd := shellCommandContext(ctx, command)
	cmd.Dir = s.root
	cmd.Env = s.EnvOverrides()
	setSysProcAttr(cmd)
	return cmd
}
