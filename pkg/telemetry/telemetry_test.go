package telemetry

import (
	"errors"
	"testing"
)

func TestTelemeter(t *testing.T) {
	tel := New()

	tel.CountBuild("x86_64-unknown-linux-gnu", nil)
	tel.CountBuild("aarch64-unknown-linux-gnu", errors.New("boom"))
	tel.CountUpload("x86_64-unknown-linux-gnu", nil)

	mfs, err := tel.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}

	got := map[string]int{}
	for _, mf := range mfs {
		got[mf.GetName()] = len(mf.GetMetric())
	}

	if got["ship_builds_total"] != 2 {
		t.Errorf("expected 2 build series, got %d", got["ship_builds_total"])
	}
	if got["ship_uploads_total"] != 1 {
		t.Errorf("expected 1 upload series, got %d", got["ship_uploads_total"])
	}
}
