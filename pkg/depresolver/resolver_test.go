package depresolver

import (
	"fmt"
	"os"
	"testing"

	"github.com/twpayne/go-vfs/vfst"
	"k8s.io/klog"
	"k8s.io/klog/klogr"
)

func TestResolveFileRemote(t *testing.T) {
	cleanfs := map[string]string{}
	cachefs := map[string]string{
		"/path/to/cache/https_github_com_acme_sysroots_git.ref=1_1_0/sysroots/aarch64.tar.gz": "archive",
	}

	type testcase struct {
		files          map[string]string
		expectCacheHit bool
	}

	testcases := []testcase{
		{files: cleanfs, expectCacheHit: false},
		{files: cachefs, expectCacheHit: true},
	}

	for i := range testcases {
		testcase := testcases[i]

		t.Run(fmt.Sprintf("case %d", i), func(t *testing.T) {
			testfs, cleanup, err := vfst.NewTestFS(testcase.files)
			if err != nil {
				t.Fatal(err)
			}
			defer cleanup()

			hit := true

			get := func(wd, src, dst string, fileMode bool) error {
				if wd != "/path/to/cache" {
					return fmt.Errorf("unexpected wd: %s", wd)
				}
				if src != "git::https://github.com/acme/sysroots.git?ref=1.1.0" {
					return fmt.Errorf("unexpected src: %s", src)
				}

				hit = false

				return nil
			}

			klog.SetOutput(os.Stderr)
			r, err := New(Logger(klogr.New()), Home("/path/to/cache"), FS(testfs), GetterImpl(&testGetter{get: get}))
			if err != nil {
				t.Fatal(err)
			}

			url := "git::https://github.com/acme/sysroots.git@sysroots/aarch64.tar.gz?ref=1.1.0"
			file, err := r.ResolveFile(url)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if file != "/path/to/cache/https_github_com_acme_sysroots_git.ref=1_1_0/sysroots/aarch64.tar.gz" {
				t.Errorf("unexpected file located: %s", file)
			}

			if testcase.expectCacheHit && !hit {
				t.Errorf("unexpected cache miss")
			}
			if !testcase.expectCacheHit && hit {
				t.Errorf("unexpected cache hit")
			}
		})
	}
}

func TestResolveFileLocalPath(t *testing.T) {
	testfs, cleanup, err := vfst.NewTestFS(map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	r, err := New(Home("/path/to/cache"), FS(testfs))
	if err != nil {
		t.Fatal(err)
	}

	// A local path is not an URL and resolves to itself.
	got, err := r.ResolveFile("/path/to/local/archive.tar.gz")
	if err != nil {
		t.Fatal(err)
	}

	if got != "/path/to/local/archive.tar.gz" {
		t.Errorf("unexpected result: %s", got)
	}
}

func TestParse(t *testing.T) {
	u, err := Parse("git::https://github.com/acme/sysroots.git@sysroots/aarch64.tar.gz?ref=1.1.0")
	if err != nil {
		t.Fatal(err)
	}

	if u.Getter != "git" {
		t.Errorf("unexpected getter: %s", u.Getter)
	}
	if u.File != "sysroots/aarch64.tar.gz" {
		t.Errorf("unexpected file: %s", u.File)
	}
	if u.IsFileMode {
		t.Error("expected dir mode for @-separated sources")
	}

	if _, err := Parse("no-scheme-local-path"); err == nil {
		t.Error("expected error for a local path")
	}
}

type testGetter struct {
	get func(wd, src, dst string, fileMode bool) error
}

func (t *testGetter) Get(wd, src, dst string, fileMode bool) error {
	return t.get(wd, src, dst, fileMode)
}
