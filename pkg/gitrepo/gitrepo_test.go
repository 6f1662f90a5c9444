package gitrepo

import (
	"testing"

	"github.com/variantdev/ship/pkg/cmdsite"
)

func TestFileAt(t *testing.T) {
	expectedInput := cmdsite.NewInput("git", []string{"-C", "/repo", "show", "abc123:Cargo.toml"}, map[string]string{})
	cmdr := cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		expectedInput: {Stdout: "[package]\nversion = \"1.1.0\"\n"},
	})

	repo, err := New("/repo", Commander(cmdr))
	if err != nil {
		t.Fatal(err)
	}

	content, err := repo.FileAt("abc123", "Cargo.toml")
	if err != nil {
		t.Fatal(err)
	}

	if string(content) != "[package]\nversion = \"1.1.0\"\n" {
		t.Errorf("unexpected content: %q", string(content))
	}
}

func TestFileAtNotExist(t *testing.T) {
	expectedInput := cmdsite.NewInput("git", []string{"-C", "/repo", "show", "abc123:Cargo.toml"}, map[string]string{})
	cmdr := cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		expectedInput: {
			Stderr: "fatal: path 'Cargo.toml' does not exist in 'abc123'\n",
			Err:    "exit status 128",
		},
	})

	repo, err := New("/repo", Commander(cmdr))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := repo.FileAt("abc123", "Cargo.toml"); err != ErrNotExist {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestHeadSHAAndParent(t *testing.T) {
	head := cmdsite.NewInput("git", []string{"-C", "/repo", "rev-parse", "HEAD"}, map[string]string{})
	parent := cmdsite.NewInput("git", []string{"-C", "/repo", "rev-parse", "abc123^"}, map[string]string{})
	cmdr := cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		head:   {Stdout: "abc123\n"},
		parent: {Stdout: "def456\n"},
	})

	repo, err := New("/repo", Commander(cmdr))
	if err != nil {
		t.Fatal(err)
	}

	sha, err := repo.HeadSHA()
	if err != nil {
		t.Fatal(err)
	}
	if sha != "abc123" {
		t.Errorf("unexpected head: %q", sha)
	}

	p, err := repo.ParentOf(sha)
	if err != nil {
		t.Fatal(err)
	}
	if p != "def456" {
		t.Errorf("unexpected parent: %q", p)
	}
}
