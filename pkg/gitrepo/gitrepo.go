package gitrepo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/variantdev/ship/pkg/cmdsite"
	"k8s.io/klog/klogr"
)

// ErrNotExist is returned by FileAt when the path is absent at the revision.
// Callers decide whether that is fatal; the version gate treats it as an
// empty marker.
var ErrNotExist = errors.New("path does not exist at revision")

// Repo is a handle to a local git checkout, capable of reading a file's
// contents as of any revision without touching the working tree.
type Repo struct {
	Dir string

	Logger logr.Logger

	cmdSite *cmdsite.CommandSite
}

type Option interface {
	SetOption(r *Repo) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (s *loggerOption) SetOption(r *Repo) error {
	r.Logger = s.l
	return nil
}

func Commander(cmdr cmdsite.RunCommand) Option {
	return &cmdrOption{cmdr: cmdr}
}

type cmdrOption struct {
	cmdr cmdsite.RunCommand
}

func (s *cmdrOption) SetOption(r *Repo) error {
	r.cmdSite.RunCmd = s.cmdr
	return nil
}

func New(dir string, opts ...Option) (*Repo, error) {
	repo := &Repo{
		Dir:     dir,
		cmdSite: cmdsite.New(),
	}

	for _, o := range opts {
		if err := o.SetOption(repo); err != nil {
			return nil, err
		}
	}

	if repo.cmdSite.RunCmd == nil {
		repo.cmdSite.RunCmd = cmdsite.DefaultRunCommand
	}

	if repo.Logger == nil {
		repo.Logger = klogr.New()
	}

	return repo, nil
}

func (r *Repo) git(args ...string) (string, string, error) {
	a := append([]string{"-C", r.Dir}, args...)
	return r.cmdSite.CaptureStrings("git", a)
}

// FileAt reads path as of rev, like `git show rev:path`.
func (r *Repo) FileAt(rev, path string) ([]byte, error) {
	stdout, stderr, err := r.git("show", rev+":"+path)
	if err != nil {
		if strings.Contains(stderr, "does not exist") || strings.Contains(stderr, "exists on disk, but not in") {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("reading %q at %q: %w", path, rev, err)
	}
	return []byte(stdout), nil
}

// HeadSHA resolves the tip revision.
func (r *Repo) HeadSHA() (string, error) {
	stdout, _, err := r.git("rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return strings.TrimSpace(stdout), nil
}

// ParentOf resolves the immediate parent of rev. A revision without a
// parent is an error: the caller has nothing to compare against.
func (r *Repo) ParentOf(rev string) (string, error) {
	stdout, _, err := r.git("rev-parse", rev+"^")
	if err != nil {
		return "", fmt.Errorf("resolving parent of %q: %w", rev, err)
	}
	return strings.TrimSpace(stdout), nil
}
