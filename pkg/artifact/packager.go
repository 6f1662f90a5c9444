package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"k8s.io/klog/klogr"
)

// Artifact is a packaged build output: the binary, its digest file, and
// the name both are published under. Immutable once produced.
type Artifact struct {
	BinaryPath      string
	FingerprintPath string
	AssetName       string
}

// Packager fingerprints binaries and writes sha256sum-convention digest
// files next to them, so third parties can verify integrity with stock
// tooling.
type Packager struct {
	Logger logr.Logger

	fs vfs.FS
}

type Option interface {
	SetOption(p *Packager) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (s *loggerOption) SetOption(p *Packager) error {
	p.Logger = s.l
	return nil
}

func FS(fs vfs.FS) Option {
	return &fsOption{f: fs}
}

type fsOption struct {
	f vfs.FS
}

func (s *fsOption) SetOption(p *Packager) error {
	p.fs = s.f
	return nil
}

func New(opts ...Option) (*Packager, error) {
	p := &Packager{}

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

	return p, nil
}

// Package computes the content fingerprint of the binary and writes
// `<assetName>.sha256` alongside it. The digest file holds a single
// `<hex-digest>  <basename>` line, two spaces, trailing newline.
func (p *Packager) Package(binaryPath, assetName string) (*Artifact, error) {
	sum, err := p.fingerprint(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting %s: %w", binaryPath, err)
	}

	fingerprintPath := filepath.Join(filepath.Dir(binaryPath), assetName+".sha256")
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(binaryPath))

	if err := p.fs.WriteFile(fingerprintPath, []byte(line), 0644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", fingerprintPath, err)
	}

	p.Logger.V(1).Info("artifact.package", "asset", assetName, "sha256", sum)

	return &Artifact{
		BinaryPath:      binaryPath,
		FingerprintPath: fingerprintPath,
		AssetName:       assetName,
	}, nil
}

func (p *Packager) fingerprint(path string) (string, error) {
	f, err := p.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
