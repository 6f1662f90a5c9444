package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/ship/pkg/artifact"
	"github.com/variantdev/ship/pkg/builddispatcher"
	"github.com/variantdev/ship/pkg/cmdsite"
	"github.com/variantdev/ship/pkg/gitrepo"
	"github.com/variantdev/ship/pkg/maputil"
	"github.com/variantdev/ship/pkg/releaseledger"
	"github.com/variantdev/ship/pkg/targetcatalog"
	"github.com/variantdev/ship/pkg/telemetry"
	"github.com/variantdev/ship/pkg/versiongate"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/klogr"
)

const ConfigFileName = "ship.yaml"

type GitHub struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
}

// Config is the whole ship.yaml. Project and the github coordinates are
// required; everything else has defaults.
type Config struct {
	Project string `yaml:"project"`

	GitHub GitHub `yaml:"github"`

	VersionGate versiongate.Spec `yaml:"versionGate"`

	Toolchain builddispatcher.Toolchain `yaml:"toolchain"`

	// Targets overrides the built-in catalog when non-empty.
	Targets []targetcatalog.Target `yaml:"targets"`
}

// configSchema guards against a config that would only fail deep inside a
// target branch, the way variant modules validate their values up front.
var configSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"project": map[string]interface{}{
			"type":      "string",
			"minLength": 1,
		},
		"github": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"owner": map[string]interface{}{"type": "string", "minLength": 1},
				"repo":  map[string]interface{}{"type": "string", "minLength": 1},
			},
			"required": []string{"owner", "repo"},
		},
	},
	"required": []string{"project", "github"},
}

// Ledger is the release-record surface the pipeline drives; the real
// implementation is releaseledger.Client.
type Ledger interface {
	CreateRelease(ctx context.Context, tag, title string) (*releaseledger.Record, error)
	UploadAsset(ctx context.Context, rec *releaseledger.Record, path, name string) error
}

// Pipeline wires the gate, ledger, dispatcher, packager and publisher into
// one run. Collaborators are defaulted at New and never swapped afterwards.
type Pipeline struct {
	Config Config

	ConfigFile string

	Logger logr.Logger

	AbsWorkDir string

	fs   vfs.FS
	cmdr cmdsite.RunCommand

	repo       versiongate.RevisionFileReader
	gate       *versiongate.Gate
	ledger     Ledger
	dispatcher *builddispatcher.Dispatcher
	packager   *artifact.Packager
	catalog    *targetcatalog.Catalog

	Telemetry *telemetry.Telemeter
}

type Option interface {
	SetOption(p *Pipeline) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (s *loggerOption) SetOption(p *Pipeline) error {
	p.Logger = s.l
	return nil
}

func FS(fs vfs.FS) Option {
	return &fsOption{f: fs}
}

type fsOption struct {
	f vfs.FS
}

func (s *fsOption) SetOption(p *Pipeline) error {
	p.fs = s.f
	return nil
}

func Commander(cmdr cmdsite.RunCommand) Option {
	return &cmdrOption{cmdr: cmdr}
}

type cmdrOption struct {
	cmdr cmdsite.RunCommand
}

func (s *cmdrOption) SetOption(p *Pipeline) error {
	p.cmdr = s.cmdr
	return nil
}

func WD(wd string) Option {
	return &wdOption{d: wd}
}

type wdOption struct {
	d string
}

func (s *wdOption) SetOption(p *Pipeline) error {
	p.AbsWorkDir = s.d
	return nil
}

func File(path string) Option {
	return &fileOption{p: path}
}

type fileOption struct {
	p string
}

func (s *fileOption) SetOption(p *Pipeline) error {
	p.ConfigFile = s.p
	return nil
}

// LedgerImpl injects a fake release endpoint in tests.
func LedgerImpl(l Ledger) Option {
	return &ledgerOption{l: l}
}

type ledgerOption struct {
	l Ledger
}

func (s *ledgerOption) SetOption(p *Pipeline) error {
	p.ledger = s.l
	return nil
}

func New(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{}

	for _, o := range opts {
		if err := o.SetOption(p); err != nil {
			return nil, err
		}
	}

	if p.Logger == nil {
		p.Logger = klogr.New()
	}

	if p.fs == nil {
		p.fs = vfs.HostOSFS
	}

	if p.cmdr == nil {
		p.cmdr = cmdsite.DefaultRunCommand
	}

	if p.AbsWorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}

		abs, err := filepath.Abs(wd)
		if err != nil {
			return nil, err
		}
		p.AbsWorkDir = abs
	}

	if p.ConfigFile == "" {
		p.ConfigFile = ConfigFileName
	}

	if err := p.loadConfig(); err != nil {
		return nil, err
	}

	if p.Telemetry == nil {
		p.Telemetry = telemetry.New()
	}

	if p.repo == nil {
		repo, err := gitrepo.New(p.AbsWorkDir, gitrepo.Logger(p.Logger), gitrepo.Commander(p.cmdr))
		if err != nil {
			return nil, err
		}
		p.repo = repo
	}

	gate, err := versiongate.New(p.Config.VersionGate, versiongate.Logger(p.Logger))
	if err != nil {
		return nil, err
	}
	p.gate = gate

	if p.ledger == nil {
		ledger, err := releaseledger.New(p.Config.GitHub.Owner, p.Config.GitHub.Repo, releaseledger.Logger(p.Logger))
		if err != nil {
			return nil, err
		}
		p.ledger = ledger
	}

	dispatcher, err := builddispatcher.New(
		builddispatcher.Config{Project: p.Config.Project, Toolchain: p.Config.Toolchain},
		builddispatcher.Logger(p.Logger),
		builddispatcher.FS(p.fs),
		builddispatcher.Commander(p.cmdr),
		builddispatcher.WD(p.AbsWorkDir),
	)
	if err != nil {
		return nil, err
	}
	p.dispatcher = dispatcher

	packager, err := artifact.New(artifact.Logger(p.Logger), artifact.FS(p.fs))
	if err != nil {
		return nil, err
	}
	p.packager = packager

	if len(p.Config.Targets) > 0 {
		p.catalog = &targetcatalog.Catalog{Targets: p.Config.Targets}
	} else {
		p.catalog = targetcatalog.Default(p.Config.Project)
	}

	if err := p.catalog.Validate(); err != nil {
		return nil, fmt.Errorf("validating target catalog: %w", err)
	}

	return p, nil
}

func (p *Pipeline) loadConfig() error {
	path := p.ConfigFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.AbsWorkDir, path)
	}

	bs, err := p.fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("loading %s: %w", p.ConfigFile, err)
	}

	if err := yaml.Unmarshal(bs, &p.Config); err != nil {
		return fmt.Errorf("parsing %s: %w", p.ConfigFile, err)
	}

	raw := interface{}(nil)
	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return err
	}

	casted, err := maputil.RecursivelyCastKeysToStrings(raw)
	if err != nil {
		return err
	}

	schemaLoader := gojsonschema.NewGoLoader(configSchema)
	docLoader := gojsonschema.NewGoLoader(casted)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("validating %s: %w", p.ConfigFile, err)
	}

	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("validating %s: %v", p.ConfigFile, msgs)
	}

	return nil
}

// Catalog exposes the validated target table, for `ship targets`.
func (p *Pipeline) Catalog() *targetcatalog.Catalog {
	return p.catalog
}

// Decide runs only the version gate, for `ship gate` and --dry-run.
func (p *Pipeline) Decide() (*versiongate.Decision, error) {
	return p.gate.Decide(p.repo)
}
