package pipeline

import (
	"context"
	"sync"

	"github.com/variantdev/ship/pkg/artifact"
	"github.com/variantdev/ship/pkg/releaseledger"
	"github.com/variantdev/ship/pkg/targetcatalog"
	"github.com/variantdev/ship/pkg/versiongate"
)

const (
	StagePackage = "package"
	StagePublish = "publish"
)

// TargetOutcome is the terminal result of one target's branch. Stage names
// the step that failed; a successful branch carries the packaged artifact.
type TargetOutcome struct {
	Target targetcatalog.Target

	Stage string
	Err   error

	// Listing holds the dispatcher's diagnostic directory enumeration
	// when the build produced no binary at the expected path.
	Listing []string

	Artifact *artifact.Artifact
}

func (o TargetOutcome) Success() bool {
	return o.Err == nil
}

// Summary is what one pipeline run reports. There is no single pass/fail:
// operators inspect per-target outcomes, and a partially successful run
// means a public release with fewer assets than intended.
type Summary struct {
	Decision versiongate.Decision

	Record *releaseledger.Record

	Targets []TargetOutcome
}

func (s *Summary) Failed() []TargetOutcome {
	var failed []TargetOutcome
	for _, o := range s.Targets {
		if !o.Success() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Run executes gate, ledger and the per-target fan-out. Gate and ledger
// failures abort the whole run before any target branch starts; from the
// fan-out on, failures stay inside their branch.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	decision, err := p.gate.Decide(p.repo)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Decision: *decision}

	if !decision.ShouldRelease {
		p.Logger.V(1).Info("pipeline.skip", "version", decision.Version)
		return summary, nil
	}

	tag := "v" + decision.Version

	rec, err := p.ledger.CreateRelease(ctx, tag, p.Config.Project+" "+tag)
	if err != nil {
		return nil, err
	}

	summary.Record = rec

	targets := p.catalog.Targets
	outcomes := make([]TargetOutcome, len(targets))

	// Full fan-out: branches share nothing mutable but the release
	// record, which only ever receives uploads under distinct asset
	// names. fail-fast stays off by joining every branch regardless.
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = p.runTarget(ctx, rec, targets[i])
		}(i)
	}
	wg.Wait()

	summary.Targets = outcomes

	return summary, nil
}

func (p *Pipeline) runTarget(ctx context.Context, rec *releaseledger.Record, t targetcatalog.Target) TargetOutcome {
	res := p.dispatcher.Dispatch(t)
	p.Telemetry.CountBuild(t.Triple, res.Err)
	if res.Err != nil {
		p.Logger.Error(res.Err, "target failed", "triple", t.Triple, "stage", res.Stage, "produced", res.Listing)
		return TargetOutcome{Target: t, Stage: res.Stage, Err: res.Err, Listing: res.Listing}
	}

	art, err := p.packager.Package(res.BinaryPath, t.AssetName)
	if err != nil {
		p.Logger.Error(err, "target failed", "triple", t.Triple, "stage", StagePackage)
		return TargetOutcome{Target: t, Stage: StagePackage, Err: err}
	}

	if err := p.publish(ctx, rec, art); err != nil {
		p.Telemetry.CountUpload(t.Triple, err)
		p.Logger.Error(err, "target failed", "triple", t.Triple, "stage", StagePublish)
		return TargetOutcome{Target: t, Stage: StagePublish, Err: err, Artifact: art}
	}
	p.Telemetry.CountUpload(t.Triple, nil)

	return TargetOutcome{Target: t, Artifact: art}
}

func (p *Pipeline) publish(ctx context.Context, rec *releaseledger.Record, art *artifact.Artifact) error {
	if err := p.ledger.UploadAsset(ctx, rec, art.BinaryPath, art.AssetName); err != nil {
		return err
	}

	return p.ledger.UploadAsset(ctx, rec, art.FingerprintPath, art.AssetName+".sha256")
}
