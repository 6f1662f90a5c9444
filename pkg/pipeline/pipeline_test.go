package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/twpayne/go-vfs/vfst"
	"github.com/variantdev/ship/pkg/cmdsite"
	"github.com/variantdev/ship/pkg/releaseledger"
)

const configYAML = `project: app
github:
  owner: acme
  repo: app
targets:
- triple: x86_64-unknown-linux-gnu
  strategy: native
  assetName: app-x86_64-unknown-linux-gnu
- triple: x86_64-apple-darwin
  strategy: native
  assetName: app-x86_64-apple-darwin
- triple: aarch64-apple-darwin
  strategy: native
  assetName: app-aarch64-apple-darwin
- triple: aarch64-unknown-linux-gnu
  strategy: emulated-cross
  assetName: app-aarch64-unknown-linux-gnu
  auxDependencies:
  - name: libssl-dev
    arch: arm64
- triple: armv7-unknown-linux-gnueabihf
  strategy: emulated-cross
  assetName: app-armv7-unknown-linux-gnueabihf
  auxDependencies:
  - name: libssl-dev
    arch: armhf
- triple: wasm32-wasip1
  strategy: sandboxed
  assetName: app-wasm32-wasip1.wasm
`

type fakeLedger struct {
	mu      sync.Mutex
	created []string
	uploads []string
}

func (f *fakeLedger) CreateRelease(ctx context.Context, tag, title string) (*releaseledger.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.created {
		if c == tag {
			return nil, fmt.Errorf("creating release %q: %w", tag, releaseledger.ErrTagExists)
		}
	}

	f.created = append(f.created, tag)

	return &releaseledger.Record{
		Tag:       tag,
		Title:     title,
		ID:        1,
		UploadURL: "https://uploads.example.com/" + tag,
		Owner:     "acme",
		Repo:      "app",
	}, nil
}

func (f *fakeLedger) UploadAsset(ctx context.Context, rec *releaseledger.Record, path, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, name)
	return nil
}

func noEnv(name string, args ...string) cmdsite.CommandInput {
	return cmdsite.NewInput(name, args, map[string]string{})
}

func gitExpectations(tipVersion, parentVersion string) map[cmdsite.CommandInput]cmdsite.CommandOutput {
	return map[cmdsite.CommandInput]cmdsite.CommandOutput{
		noEnv("git", "-C", "/wd", "rev-parse", "HEAD"):    {Stdout: "tipsha\n"},
		noEnv("git", "-C", "/wd", "rev-parse", "tipsha^"): {Stdout: "parsha\n"},
		noEnv("git", "-C", "/wd", "show", "tipsha:Cargo.toml"): {
			Stdout: "[package]\nname = \"app\"\nversion = \"" + tipVersion + "\"\n",
		},
		noEnv("git", "-C", "/wd", "show", "parsha:Cargo.toml"): {
			Stdout: "[package]\nname = \"app\"\nversion = \"" + parentVersion + "\"\n",
		},
	}
}

func buildExpectations() map[cmdsite.CommandInput]cmdsite.CommandOutput {
	exp := map[cmdsite.CommandInput]cmdsite.CommandOutput{}

	natives := []string{"x86_64-unknown-linux-gnu", "x86_64-apple-darwin", "aarch64-apple-darwin", "wasm32-wasip1"}
	for _, triple := range natives {
		exp[noEnv("rustup", "target", "add", triple)] = cmdsite.CommandOutput{}
		exp[noEnv("cargo", "build", "--release", "--target", triple)] = cmdsite.CommandOutput{}
	}

	emulated := []string{"aarch64-unknown-linux-gnu", "armv7-unknown-linux-gnueabihf"}
	for _, triple := range emulated {
		exp[noEnv("rustup", "target", "add", triple)] = cmdsite.CommandOutput{}
		exp[cmdsite.NewInput("cross", []string{"build", "--release", "--target", triple}, map[string]string{
			"CROSS_CONFIG": "/wd/Cross-" + triple + ".toml",
		})] = cmdsite.CommandOutput{}
	}

	return exp
}

func testFiles(triples ...string) map[string]interface{} {
	files := map[string]interface{}{
		"/wd/ship.yaml": configYAML,
	}
	for _, triple := range triples {
		files["/wd/target/"+triple+"/release/app"] = "binary for " + triple
	}
	return files
}

func merge(ms ...map[cmdsite.CommandInput]cmdsite.CommandOutput) map[cmdsite.CommandInput]cmdsite.CommandOutput {
	res := map[cmdsite.CommandInput]cmdsite.CommandOutput{}
	for _, m := range ms {
		for k, v := range m {
			res[k] = v
		}
	}
	return res
}

func newTestPipeline(t *testing.T, files map[string]interface{}, exp map[cmdsite.CommandInput]cmdsite.CommandOutput, ledger Ledger) (*Pipeline, func()) {
	t.Helper()

	fs, clean, err := vfst.NewTestFS(files)
	if err != nil {
		t.Fatal(err)
	}

	p, err := New(
		FS(fs),
		WD("/wd"),
		Commander(cmdsite.NewTester(exp)),
		LedgerImpl(ledger),
	)
	if err != nil {
		clean()
		t.Fatal(err)
	}

	return p, clean
}

func TestRun_VersionChanged(t *testing.T) {
	// Scenario: 1.0.0 at the parent, 1.1.0 at the tip. Every target builds
	// and publishes.
	ledger := &fakeLedger{}
	p, clean := newTestPipeline(t,
		testFiles(
			"x86_64-unknown-linux-gnu",
			"x86_64-apple-darwin",
			"aarch64-apple-darwin",
			"aarch64-unknown-linux-gnu",
			"armv7-unknown-linux-gnueabihf",
			"wasm32-wasip1",
		),
		merge(gitExpectations("1.1.0", "1.0.0"), buildExpectations()),
		ledger,
	)
	defer clean()

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if !summary.Decision.ShouldRelease {
		t.Fatal("expected a release")
	}
	if summary.Decision.Version != "1.1.0" {
		t.Errorf("unexpected version: %q", summary.Decision.Version)
	}
	if summary.Record == nil || summary.Record.Tag != "v1.1.0" {
		t.Fatalf("unexpected record: %+v", summary.Record)
	}

	if len(ledger.created) != 1 || ledger.created[0] != "v1.1.0" {
		t.Errorf("unexpected creations: %v", ledger.created)
	}

	if failed := summary.Failed(); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}

	// Six binaries plus six digest files.
	if len(ledger.uploads) != 12 {
		t.Errorf("expected 12 uploads, got %d: %v", len(ledger.uploads), ledger.uploads)
	}
}

func TestRun_VersionUnchanged(t *testing.T) {
	// Scenario: same marker at both revisions. No ledger call, no builds,
	// zero artifacts.
	ledger := &fakeLedger{}
	p, clean := newTestPipeline(t, testFiles(), gitExpectations("1.1.0", "1.1.0"), ledger)
	defer clean()

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if summary.Decision.ShouldRelease {
		t.Error("expected shouldRelease=false")
	}
	if summary.Record != nil {
		t.Error("no release record expected")
	}
	if len(summary.Targets) != 0 {
		t.Errorf("no target branches expected, got %d", len(summary.Targets))
	}
	if len(ledger.created) != 0 || len(ledger.uploads) != 0 {
		t.Errorf("ledger must not be touched: %v %v", ledger.created, ledger.uploads)
	}
}

func TestRun_OneTargetFails(t *testing.T) {
	// Scenario: six targets, one emulated-cross target's provisioning
	// fails. Five succeed, exactly ten files are uploaded.
	exp := merge(gitExpectations("1.1.0", "1.0.0"), buildExpectations())
	exp[noEnv("rustup", "target", "add", "aarch64-unknown-linux-gnu")] = cmdsite.CommandOutput{
		Stderr: "error: could not install target\n",
		Err:    "exit status 1",
	}

	ledger := &fakeLedger{}
	p, clean := newTestPipeline(t,
		testFiles(
			"x86_64-unknown-linux-gnu",
			"x86_64-apple-darwin",
			"aarch64-apple-darwin",
			"armv7-unknown-linux-gnueabihf",
			"wasm32-wasip1",
		),
		exp,
		ledger,
	)
	defer clean()

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	failed := summary.Failed()
	if len(failed) != 1 {
		t.Fatalf("expected exactly one failure, got %d: %+v", len(failed), failed)
	}
	if failed[0].Target.Triple != "aarch64-unknown-linux-gnu" {
		t.Errorf("unexpected failed target: %s", failed[0].Target.Triple)
	}

	var succeeded int
	for _, o := range summary.Targets {
		if o.Success() {
			succeeded++
		}
	}
	if succeeded != 5 {
		t.Errorf("expected 5 successes, got %d", succeeded)
	}

	if len(ledger.uploads) != 10 {
		t.Fatalf("expected 10 uploads, got %d: %v", len(ledger.uploads), ledger.uploads)
	}

	sort.Strings(ledger.uploads)
	for _, name := range ledger.uploads {
		if name == "app-aarch64-unknown-linux-gnu" || name == "app-aarch64-unknown-linux-gnu.sha256" {
			t.Errorf("failed target must not publish: %v", ledger.uploads)
		}
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	fs, clean, err := vfst.NewTestFS(map[string]interface{}{
		"/wd/ship.yaml": "project: app\n", // github coordinates missing
	})
	if err != nil {
		t.Fatal(err)
	}
	defer clean()

	_, err = New(FS(fs), WD("/wd"), Commander(cmdsite.NewTester(nil)), LedgerImpl(&fakeLedger{}))
	if err == nil {
		t.Fatal("expected config validation to fail")
	}
}

func TestDecide(t *testing.T) {
	ledger := &fakeLedger{}
	p, clean := newTestPipeline(t, testFiles(), gitExpectations("2.0.0", "1.0.0"), ledger)
	defer clean()

	d, err := p.Decide()
	if err != nil {
		t.Fatal(err)
	}

	if !d.ShouldRelease || d.Version != "2.0.0" {
		t.Errorf("unexpected decision: %+v", d)
	}
}
