package targetcatalog

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/variantdev/ship/pkg/tmpl"
)

// Strategy tells the dispatcher how a target's build must be executed.
type Strategy string

const (
	// StrategyNative runs the build directly on a runner whose host
	// matches the triple; auxiliary dependencies come from the host's
	// package manager.
	StrategyNative Strategy = "native"

	// StrategyEmulatedCross runs the build through an emulation wrapper
	// that provides the target's system libraries via an
	// architecture-qualified package install.
	StrategyEmulatedCross Strategy = "emulated-cross"

	// StrategySandboxed is for freestanding targets with no system-library
	// surface at all; only the core toolchain is invoked.
	StrategySandboxed Strategy = "sandboxed"
)

// AuxDep is a platform-specific library required before building for a
// triple, e.g. a crypto library variant. Arch qualifies the package for
// emulated cross installs. Source optionally points at a prebuilt archive
// or a single file fetched instead of using the package manager.
type AuxDep struct {
	Name   string `yaml:"name"`
	Arch   string `yaml:"arch"`
	Source string `yaml:"source"`
}

func (d AuxDep) PackageSpec() string {
	if d.Arch == "" {
		return d.Name
	}
	return d.Name + ":" + d.Arch
}

// Target is one row of the catalog. Static configuration; nothing mutates
// it at run time.
type Target struct {
	Triple            string   `yaml:"triple"`
	Strategy          Strategy `yaml:"strategy"`
	OutputPathPattern string   `yaml:"outputPathPattern"`
	AssetName         string   `yaml:"assetName"`
	AuxDeps           []AuxDep `yaml:"auxDependencies"`
}

const defaultOutputPathPattern = "target/{{.Triple}}/release/{{.Bin}}"

// BinaryName is the file name the toolchain produces for this target.
func (t Target) BinaryName(project string) string {
	if strings.Contains(t.Triple, "windows") {
		return project + ".exe"
	}
	return project
}

// BinaryPath resolves the expected output location under workdir.
func (t Target) BinaryPath(workdir, project string) (string, error) {
	pattern := t.OutputPathPattern
	if pattern == "" {
		pattern = defaultOutputPathPattern
	}

	rendered, err := tmpl.Render("outputPath", pattern, map[string]interface{}{
		"Triple": t.Triple,
		"Bin":    t.BinaryName(project),
	})
	if err != nil {
		return "", fmt.Errorf("rendering output path for %s: %w", t.Triple, err)
	}

	return filepath.Join(workdir, rendered), nil
}

type Catalog struct {
	Targets []Target `yaml:"targets"`
}

// Default is the built-in table: four native targets, two emulated cross
// targets that need an arch-qualified crypto library, and one sandboxed
// wasm target. Adding a target is a pure data change here or in ship.yaml.
func Default(project string) *Catalog {
	return &Catalog{
		Targets: []Target{
			{
				Triple:    "x86_64-unknown-linux-gnu",
				Strategy:  StrategyNative,
				AssetName: project + "-x86_64-unknown-linux-gnu",
				AuxDeps:   []AuxDep{{Name: "libssl-dev"}},
			},
			{
				Triple:    "aarch64-unknown-linux-gnu",
				Strategy:  StrategyEmulatedCross,
				AssetName: project + "-aarch64-unknown-linux-gnu",
				AuxDeps:   []AuxDep{{Name: "libssl-dev", Arch: "arm64"}},
			},
			{
				Triple:    "armv7-unknown-linux-gnueabihf",
				Strategy:  StrategyEmulatedCross,
				AssetName: project + "-armv7-unknown-linux-gnueabihf",
				AuxDeps:   []AuxDep{{Name: "libssl-dev", Arch: "armhf"}},
			},
			{
				Triple:    "x86_64-apple-darwin",
				Strategy:  StrategyNative,
				AssetName: project + "-x86_64-apple-darwin",
			},
			{
				Triple:    "aarch64-apple-darwin",
				Strategy:  StrategyNative,
				AssetName: project + "-aarch64-apple-darwin",
			},
			{
				Triple:    "x86_64-pc-windows-msvc",
				Strategy:  StrategyNative,
				AssetName: project + "-x86_64-pc-windows-msvc.exe",
			},
			{
				Triple:    "wasm32-wasip1",
				Strategy:  StrategySandboxed,
				AssetName: project + "-wasm32-wasip1.wasm",
			},
		},
	}
}

// Validate enforces the catalog invariants: every triple and every asset
// name unique, every strategy known, sandboxed targets free of aux deps.
func (c *Catalog) Validate() error {
	triples := map[string]bool{}
	assets := map[string]bool{}

	for _, t := range c.Targets {
		if t.Triple == "" {
			return fmt.Errorf("target with empty triple")
		}
		if triples[t.Triple] {
			return fmt.Errorf("duplicate triple %q", t.Triple)
		}
		triples[t.Triple] = true

		if t.AssetName == "" {
			return fmt.Errorf("target %s: empty asset name", t.Triple)
		}
		if assets[t.AssetName] {
			return fmt.Errorf("target %s: asset name %q collides with another target", t.Triple, t.AssetName)
		}
		assets[t.AssetName] = true

		switch t.Strategy {
		case StrategyNative, StrategyEmulatedCross, StrategySandboxed:
		default:
			return fmt.Errorf("target %s: unknown strategy %q", t.Triple, t.Strategy)
		}

		if t.Strategy == StrategySandboxed && len(t.AuxDeps) > 0 {
			return fmt.Errorf("target %s: sandboxed targets take no auxiliary dependencies", t.Triple)
		}
	}

	return nil
}
