package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "README.md")
	run("commit", "-m", "initial")
}

func TestNew_GitRepo_CreatesWorktree(t *testing.T) {
	repo := t.TempDir()
	initGitRepo(t, repo)

	sb, err := New(context.Background(), repo)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sb.Close()

	if sb.ID() == "" {
		t.Error("expected non-empty ID")
	}
	if sb.Root() == "" {
		t.Error("expected non-empty Root")
	}
	if _, err := os.Stat(filepath.Join(sb.Root(), "README.md")); err != nil {
		t.Errorf("expected README.md to be present in worktree: %v", err)
	}
	if !sb.worktree {
		t.Error("expected sandbox backed by a git worktree for a git repo")
	}
}

func TestNew_NonGitDir_CopiesFreshTree(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "nested.go"), []byte("package sub\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	sb, err := New(context.Background(), src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sb.Close()

	if sb.worktree {
		t.Error("expected non-worktree sandbox for a non-git directory")
	}
	if _, err := os.Stat(filepath.Join(sb.Root(), "main.go")); err != nil {
		t.Errorf("expected main.go copied into sandbox: %v", err)
	}
	if _, err := os.Stat(filepath.Join(sb.Root(), "sub", "nested.go")); err != nil {
		t.Errorf("expected sub/nested.go copied into sandbox: %v", err)
	}
}

func TestEnvOverrides_DisablesInteractivePrompts(t *testing.T) {
	repo := t.TempDir()
	initGitRepo(t, repo)
	sb, err := New(context.Background(), repo)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sb.Close()

	env := sb.EnvOverrides()
	want := []string{"GIT_TERMINAL_PROMPT=0", "CI=true", "GIT_EDITOR=true"}
	for _, w := range want {
		found := false
		for _, e := range env {
			if e == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("EnvOverrides missing %q", w)
		}
	}
}

func TestResolveRepoPathAllowNew(t *testing.T) {
	repo := t.TempDir()
	initGitRepo(t, repo)
	sb, err := New(context.Background(), repo)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sb.Close()

	cases := []struct {
		name    string
		rel     string
		wantErr bool
	}{
		{"existing file", "README.md", false},
		{"new file in existing dir", "NEW.md", false},
		{"new nested path", "pkg/new/file.go", false},
		{"absolute path rejected", "/etc/passwd", true},
		{"parent traversal rejected", "../outside.txt", true},
		{"embedded traversal rejected", "sub/../../outside.txt", true},
		{"empty path rejected", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolved, err := sb.ResolveRepoPathAllowNew(tc.rel)
			if tc.wantErr {
				if err == nil {
					t.Errorf("ResolveRepoPathAllowNew(%q) = %q, want error", tc.rel, resolved)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveRepoPathAllowNew(%q): %v", tc.rel, err)
			}
			if !strings.HasPrefix(resolved, sb.Root()) {
				t.Errorf("resolved path %q escapes sandbox root %q", resolved, sb.Root())
			}
		})
	}
}

func TestModifiedFiles(t *testing.T) {
	repo := t.TempDir()
	initGitRepo(t, repo)
	sb, err := New(context.Background(), repo)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sb.Close()

	path, err := sb.ResolveRepoPathAllowNew("src/new.rs")
	if err != nil {
		t.Fatalf("ResolveRepoPathAllowNew: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("fn main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	modified, err := sb.ModifiedFiles()
	if err != nil {
		t.Fatalf("ModifiedFiles: %v", err)
	}
	found := false
	for _, f := range modified {
		if f == "src/new.rs" {
			found = true
		}
	}
	if !found {
		t.Errorf("ModifiedFiles() = %v, want to contain src/new.rs", modified)
	}
}

func TestClose_RemovesSandboxRoot(t *testing.T) {
	repo := t.TempDir()
	initGitRepo(t, repo)
	sb, err := New(context.Background(), repo)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	root := sb.Root()

	if err := sb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Errorf("expected sandbox root %q to be removed after Close, stat err = %v", root, err)
	}
}

func TestShellCommand_RootedAtSandbox(t *testing.T) {
	repo := t.TempDir()
	initGitRepo(t, repo)
	sb, err := New(context.Background(), repo)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sb.Close()

	cmd := sb.ShellCommand(context.Background(), "pwd")
	if cmd.Dir != sb.Root() {
		t.Errorf("ShellCommand Dir = %q, want %q", cmd.Dir, sb.Root())
	}
	found := false
	for _, e := range cmd.Env {
		if e == "CI=true" {
			found = true
		}
	}
	if !found {
		t.Error("ShellCommand env missing CI=true override")
	}
}

func TestIsSafeRelativePath(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"src/a.rs", true},
		{"a.rs", true},
		{"", false},
		{"/abs/path", false},
		{"../escape", false},
		{"a/../../escape", false},
		{"a/./b", true},
	}
	for _, tc := range cases {
		if got := isSafeRelativePath(tc.path); got != tc.want {
			t.Errorf("isSafeRelativePath(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
