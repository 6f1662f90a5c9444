package versiongate

import (
	"fmt"
	"regexp"

	"github.com/PaesslerAG/jsonpath"
	"github.com/go-logr/logr"
	"github.com/variantdev/ship/pkg/gitrepo"
	"github.com/variantdev/ship/pkg/maputil"
	"github.com/variantdev/ship/pkg/semver"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/klogr"
)

const (
	DefaultFile   = "Cargo.toml"
	DefaultRegexp = `(?m)^version\s*=\s*"([^"]+)"`
)

// RevisionFileReader is the repository-access surface the gate needs:
// resolve the tip and its parent, and read one file at either revision.
type RevisionFileReader interface {
	FileAt(rev, path string) ([]byte, error)
	HeadSHA() (string, error)
	ParentOf(rev string) (string, error)
}

// Gate compares the version marker at the tip revision against the one at
// its immediate parent. No deeper history is consulted.
type Gate struct {
	Spec Spec

	Logger logr.Logger
}

type Option interface {
	SetOption(g *Gate) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (s *loggerOption) SetOption(g *Gate) error {
	g.Logger = s.l
	return nil
}

func New(conf Spec, opts ...Option) (*Gate, error) {
	g := &Gate{Spec: conf}

	for _, o := range opts {
		if err := o.SetOption(g); err != nil {
			return nil, err
		}
	}

	if g.Logger == nil {
		g.Logger = klogr.New()
	}

	if g.Spec.File == "" {
		g.Spec.File = DefaultFile
	}

	if g.Spec.Regexp == "" && g.Spec.JSONPath == "" {
		g.Spec.Regexp = DefaultRegexp
	}

	if g.Spec.Regexp != "" {
		if _, err := regexp.Compile(g.Spec.Regexp); err != nil {
			return nil, fmt.Errorf("compiling version field pattern: %w", err)
		}
	}

	return g, nil
}

// Decide reads the marker at HEAD and at HEAD's parent and compares them as
// strings. A changed marker, including absent-to-present, means release.
func (g *Gate) Decide(repo RevisionFileReader) (*Decision, error) {
	head, err := repo.HeadSHA()
	if err != nil {
		return nil, err
	}

	parent, err := repo.ParentOf(head)
	if err != nil {
		return nil, err
	}

	tip, err := g.markerAt(repo, head)
	if err != nil {
		return nil, err
	}

	prev, err := g.markerAt(repo, parent)
	if err != nil {
		return nil, err
	}

	g.Logger.V(1).Info("versiongate.decide", "tip", tip, "parent", prev)

	if tip != "" {
		if _, err := semver.Parse(tip); err != nil {
			g.Logger.V(1).Info("version marker is not semver", "version", tip, "err", err)
		}
	}

	return &Decision{
		ShouldRelease: tip != prev,
		Version:       tip,
	}, nil
}

// markerAt returns the empty string when the file or the field is absent at
// rev. Only a failure to access the repository itself is an error.
func (g *Gate) markerAt(repo RevisionFileReader, rev string) (string, error) {
	content, err := repo.FileAt(rev, g.Spec.File)
	if err != nil {
		if err == gitrepo.ErrNotExist {
			return "", nil
		}
		return "", err
	}

	if g.Spec.Regexp != "" {
		return extractRegexp(g.Spec.Regexp, content), nil
	}

	return extractJSONPath(g.Spec.JSONPath, content)
}

func extractRegexp(pattern string, content []byte) string {
	re := regexp.MustCompile(pattern)

	// Only the first occurrence counts. Cargo.toml-style manifests repeat
	// `version = ...` for each dependency further down.
	m := re.FindSubmatch(content)
	if m == nil {
		return ""
	}
	if len(m) > 1 {
		return string(m[1])
	}
	return string(m[0])
}

func extractJSONPath(path string, content []byte) (string, error) {
	tmp := interface{}(nil)
	if err := yaml.Unmarshal(content, &tmp); err != nil {
		return "", fmt.Errorf("parsing version file: %w", err)
	}

	v, err := maputil.RecursivelyCastKeysToStrings(tmp)
	if err != nil {
		return "", err
	}

	got, err := jsonpath.Get(path, v)
	if err != nil {
		// An absent field participates as an empty marker rather than
		// aborting the run.
		return "", nil
	}

	s, ok := got.(string)
	if !ok {
		return fmt.Sprintf("%v", got), nil
	}

	return s, nil
}
