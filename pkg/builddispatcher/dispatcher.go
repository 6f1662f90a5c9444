package builddispatcher

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/ship/pkg/cmdsite"
	"github.com/variantdev/ship/pkg/depresolver"
	"github.com/variantdev/ship/pkg/targetcatalog"
	"github.com/variantdev/ship/pkg/tmpl"
	"k8s.io/klog/klogr"
)

// Toolchain holds the command lines the dispatcher orchestrates. Element 0
// is the binary, the rest are arguments; every element is a template
// rendered with .Triple, .Package or .Arch as appropriate. The defaults
// match a Rust toolchain but the pipeline treats them as opaque.
type Toolchain struct {
	InstallTarget   []string `yaml:"installTarget"`
	Build           []string `yaml:"build"`
	EmulatedBuild   []string `yaml:"emulatedBuild"`
	InstallPackage  []string `yaml:"installPackage"`
	AddArchitecture []string `yaml:"addArchitecture"`
	UpdatePackages  []string `yaml:"updatePackages"`
}

func defaultToolchain() Toolchain {
	return Toolchain{
		InstallTarget:   []string{"rustup", "target", "add", "{{.Triple}}"},
		Build:           []string{"cargo", "build", "--release", "--target", "{{.Triple}}"},
		EmulatedBuild:   []string{"cross", "build", "--release", "--target", "{{.Triple}}"},
		InstallPackage:  []string{"apt-get", "install", "-y", "{{.Package}}"},
		AddArchitecture: []string{"dpkg", "--add-architecture", "{{.Arch}}"},
		UpdatePackages:  []string{"apt-get", "update"},
	}
}

type Config struct {
	// Project names the binary the toolchain produces.
	Project string `yaml:"project"`

	Toolchain Toolchain `yaml:"toolchain"`
}

// Stage names the dispatcher step a failure happened in.
const (
	StageToolchain = "toolchain"
	StageProvision = "provision"
	StageBuild     = "build"
	StageVerify    = "verify"
)

// Result is the terminal outcome for one target. A failed target carries
// the stage it failed in and, for a missing binary, a listing of what the
// build actually produced. Failures never propagate across targets.
type Result struct {
	Target     targetcatalog.Target
	BinaryPath string

	Stage string
	Err   error

	// Listing enumerates candidate files in the output directory when the
	// expected binary is absent, to aid triage.
	Listing []string
}

func (r Result) Success() bool {
	return r.Err == nil
}

// Dispatcher provisions an environment and runs the strategy-appropriate
// build for each catalog target. Safe for concurrent Dispatch calls: all
// fields are read-only after New.
type Dispatcher struct {
	Config Config

	Logger logr.Logger

	AbsWorkDir string

	fs      vfs.FS
	cmdSite *cmdsite.CommandSite
	dep     *depresolver.Resolver

	cacheDir string
}

type Option interface {
	SetOption(d *Dispatcher) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (s *loggerOption) SetOption(d *Dispatcher) error {
	d.Logger = s.l
	return nil
}

func FS(fs vfs.FS) Option {
	return &fsOption{f: fs}
}

type fsOption struct {
	f vfs.FS
}

func (s *fsOption) SetOption(d *Dispatcher) error {
	d.fs = s.f
	return nil
}

func Commander(cmdr cmdsite.RunCommand) Option {
	return &cmdrOption{cmdr: cmdr}
}

type cmdrOption struct {
	cmdr cmdsite.RunCommand
}

func (s *cmdrOption) SetOption(d *Dispatcher) error {
	d.cmdSite.RunCmd = s.cmdr
	return nil
}

func WD(wd string) Option {
	return &wdOption{d: wd}
}

type wdOption struct {
	d string
}

func (s *wdOption) SetOption(d *Dispatcher) error {
	d.AbsWorkDir = s.d
	return nil
}

func New(conf Config, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		Config:  conf,
		cmdSite: cmdsite.New(),
	}

	for _, o := range opts {
		if err := o.SetOption(d); err != nil {
			return nil, err
		}
	}

	if d.Config.Project == "" {
		return nil, fmt.Errorf("project must not be empty")
	}

	if d.cmdSite.RunCmd == nil {
		d.cmdSite.RunCmd = cmdsite.DefaultRunCommand
	}

	if d.Logger == nil {
		d.Logger = klogr.New()
	}

	if d.fs == nil {
		d.fs = vfs.HostOSFS
	}

	if d.AbsWorkDir == "" {
		d.AbsWorkDir = "."
	}

	if d.cacheDir == "" {
		d.cacheDir = filepath.Join(d.AbsWorkDir, ".ship", "cache")
	}

	def := defaultToolchain()
	tc := &d.Config.Toolchain
	if len(tc.InstallTarget) == 0 {
		tc.InstallTarget = def.InstallTarget
	}
	if len(tc.Build) == 0 {
		tc.Build = def.Build
	}
	if len(tc.EmulatedBuild) == 0 {
		tc.EmulatedBuild = def.EmulatedBuild
	}
	if len(tc.InstallPackage) == 0 {
		tc.InstallPackage = def.InstallPackage
	}
	if len(tc.AddArchitecture) == 0 {
		tc.AddArchitecture = def.AddArchitecture
	}
	if len(tc.UpdatePackages) == 0 {
		tc.UpdatePackages = def.UpdatePackages
	}

	dep, err := depresolver.New(
		depresolver.Home(d.cacheDir),
		depresolver.Logger(d.Logger),
		depresolver.FS(d.fs),
	)
	if err != nil {
		return nil, err
	}

	d.dep = dep

	return d, nil
}

// Dispatch runs steps (a)-(d) for one target and reports the outcome as a
// value. It never returns an error: the caller aggregates Results so that
// one target's failure cannot suppress its siblings.
func (d *Dispatcher) Dispatch(t targetcatalog.Target) Result {
	res := Result{Target: t}

	if err := d.installToolchain(t); err != nil {
		res.Stage, res.Err = StageToolchain, err
		return res
	}

	env, err := d.provision(t)
	if err != nil {
		res.Stage, res.Err = StageProvision, err
		return res
	}

	if err := d.build(t, env); err != nil {
		res.Stage, res.Err = StageBuild, err
		return res
	}

	binPath, err := t.BinaryPath(d.AbsWorkDir, d.Config.Project)
	if err != nil {
		res.Stage, res.Err = StageVerify, err
		return res
	}

	if _, err := d.fs.Stat(binPath); err != nil {
		res.Stage = StageVerify
		res.Err = fmt.Errorf("expected binary %s missing after build for %s", binPath, t.Triple)
		res.Listing = d.listCandidates(filepath.Dir(binPath))
		return res
	}

	res.BinaryPath = binPath

	d.Logger.V(1).Info("builddispatcher.dispatch", "triple", t.Triple, "binary", binPath)

	return res
}

func (d *Dispatcher) installToolchain(t targetcatalog.Target) error {
	return d.runTemplated(d.Config.Toolchain.InstallTarget, map[string]interface{}{"Triple": t.Triple}, nil)
}

// provision satisfies the target's auxiliary dependencies with the
// strategy-appropriate mechanism and returns extra env for the build step.
func (d *Dispatcher) provision(t targetcatalog.Target) (map[string]string, error) {
	switch t.Strategy {
	case targetcatalog.StrategySandboxed:
		// No system-library surface at all.
		return nil, nil
	case targetcatalog.StrategyNative:
		return d.provisionNative(t)
	case targetcatalog.StrategyEmulatedCross:
		return nil, d.provisionEmulated(t)
	default:
		return nil, fmt.Errorf("unknown strategy %q for %s", t.Strategy, t.Triple)
	}
}

func (d *Dispatcher) provisionNative(t targetcatalog.Target) (map[string]string, error) {
	env := map[string]string{}

	for _, dep := range t.AuxDeps {
		if dep.Source != "" {
			name, path, err := d.resolveSource(dep)
			if err != nil {
				return nil, fmt.Errorf("fetching %s for %s: %w", dep.Name, t.Triple, err)
			}
			env[name] = path
			continue
		}

		if err := d.runTemplated(d.Config.Toolchain.InstallPackage, map[string]interface{}{"Package": dep.Name}, nil); err != nil {
			return nil, fmt.Errorf("installing %s for %s: %w", dep.Name, t.Triple, err)
		}
	}

	return env, nil
}

// provisionEmulated does not install anything on the host. It writes the
// per-target manifest the emulation wrapper reads, listing the pre-build
// commands that provision the target's system libraries inside the
// emulated environment.
func (d *Dispatcher) provisionEmulated(t targetcatalog.Target) error {
	var preBuild []string

	for _, dep := range t.AuxDeps {
		if dep.Source != "" {
			// Warms the cache only; the emulated environment provisions
			// itself through the manifest's pre-build commands.
			if _, _, err := d.resolveSource(dep); err != nil {
				return fmt.Errorf("fetching %s for %s: %w", dep.Name, t.Triple, err)
			}
			continue
		}

		if dep.Arch != "" {
			add, err := renderAll(d.Config.Toolchain.AddArchitecture, map[string]interface{}{"Arch": dep.Arch})
			if err != nil {
				return err
			}
			preBuild = appendUnique(preBuild, strings.Join(add, " "))
			preBuild = appendUnique(preBuild, strings.Join(d.Config.Toolchain.UpdatePackages, " "))
		}

		install, err := renderAll(d.Config.Toolchain.InstallPackage, map[string]interface{}{"Package": dep.PackageSpec()})
		if err != nil {
			return err
		}
		preBuild = appendUnique(preBuild, strings.Join(install, " "))
	}

	return d.writeEmulationManifest(t, preBuild)
}

const emulationManifestTemplate = `# Generated for {{.Triple}}; pre-build provisioning inside the emulated environment.
[target.{{.Triple}}]
pre-build = [
{{- range .PreBuild}}
    "{{.}}",
{{- end}}
]
`

func (d *Dispatcher) writeEmulationManifest(t targetcatalog.Target, preBuild []string) error {
	content, err := tmpl.Render("emulation-manifest", emulationManifestTemplate, map[string]interface{}{
		"Triple":   t.Triple,
		"PreBuild": preBuild,
	})
	if err != nil {
		return err
	}

	path := d.EmulationManifestPath(t)

	if err := d.fs.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing emulation manifest for %s: %w", t.Triple, err)
	}

	d.Logger.V(1).Info("builddispatcher.manifest", "triple", t.Triple, "path", path)

	return nil
}

// EmulationManifestPath is per-target so parallel branches never share a
// file.
func (d *Dispatcher) EmulationManifestPath(t targetcatalog.Target) string {
	return filepath.Join(d.AbsWorkDir, "Cross-"+t.Triple+".toml")
}

func (d *Dispatcher) build(t targetcatalog.Target, env map[string]string) error {
	argv := d.Config.Toolchain.Build
	if t.Strategy == targetcatalog.StrategyEmulatedCross {
		argv = d.Config.Toolchain.EmulatedBuild
		if env == nil {
			env = map[string]string{}
		}
		env["CROSS_CONFIG"] = d.EmulationManifestPath(t)
	}

	if err := d.runTemplated(argv, map[string]interface{}{"Triple": t.Triple}, env); err != nil {
		return fmt.Errorf("building %s: %w", t.Triple, err)
	}

	return nil
}

func (d *Dispatcher) runTemplated(argv []string, data map[string]interface{}, extraEnv map[string]string) error {
	rendered, err := renderAll(argv, data)
	if err != nil {
		return err
	}

	site := d.cmdSite
	if len(extraEnv) > 0 {
		// Clone per invocation; the dispatcher is shared across target
		// goroutines and must not mutate common state.
		clone := cmdsite.New()
		clone.RunCmd = d.cmdSite.RunCmd
		for k, v := range d.cmdSite.Env {
			clone.Env[k] = v
		}
		for k, v := range extraEnv {
			clone.Env[k] = v
		}
		site = clone
	}

	_, stderr, err := site.CaptureStrings(rendered[0], rendered[1:])
	if err != nil {
		return fmt.Errorf("%s: %w: %s", rendered[0], err, strings.TrimSpace(stderr))
	}

	return nil
}

func (d *Dispatcher) listCandidates(dir string) []string {
	infos, err := d.fs.ReadDir(dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	return names
}

func renderAll(argv []string, data map[string]interface{}) ([]string, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return tmpl.RenderStrings("toolchain", argv, data)
}

func appendUnique(ss []string, s string) []string {
	for _, e := range ss {
		if e == s {
			return ss
		}
	}
	return append(ss, s)
}

// resolveSource fetches a source-provided aux dep through the shared cache.
// A source naming a single file exports <NAME>_FILE; an unpacked archive or
// a local directory exports <NAME>_DIR.
func (d *Dispatcher) resolveSource(dep targetcatalog.AuxDep) (string, string, error) {
	if !depresolver.IsRemote(dep.Source) {
		return depEnvName(dep.Name, "DIR"), dep.Source, nil
	}

	u, err := depresolver.Parse(dep.Source)
	if err != nil {
		return "", "", err
	}

	if u.IsFileMode {
		file, err := d.dep.ResolveFile(dep.Source)
		if err != nil {
			return "", "", err
		}
		return depEnvName(dep.Name, "FILE"), file, nil
	}

	dir, err := d.dep.ResolveDir(dep.Source)
	if err != nil {
		return "", "", err
	}
	return depEnvName(dep.Name, "DIR"), dir, nil
}

func depEnvName(name, kind string) string {
	r := strings.NewReplacer("-", "_", ".", "_")
	return strings.ToUpper(r.Replace(name)) + "_" + kind
}
