package depresolver

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	getter "github.com/hashicorp/go-getter"
	"github.com/hashicorp/go-getter/helper/url"
	"github.com/twpayne/go-vfs"
	"k8s.io/klog/klogr"
)

// Resolver caches remote auxiliary-dependency archives, like prebuilt
// sysroots or crypto-library bundles, fetched by go-getter URL.
type Resolver struct {
	Logger logr.Logger

	// Home is the cache root. Fetched archives land in per-source
	// subdirectories under it.
	Home string

	// GoGetterHome is the working directory used by go-getter for
	// downloading. This differs from Home only when testing with go-vfs/vfst.
	GoGetterHome string

	// Getter is the underlying fetch implementation, swappable in tests.
	Getter Getter

	fs vfs.FS
}

type Option interface {
	SetOption(*Resolver) error
}

func Home(dir string) Option {
	return &homeOption{d: dir}
}

type homeOption struct {
	d string
}

func (s *homeOption) SetOption(r *Resolver) error {
	r.Home = s.d
	return nil
}

func GoGetterHome(dir string) Option {
	return &goGetterHomeOption{d: dir}
}

type goGetterHomeOption struct {
	d string
}

func (s *goGetterHomeOption) SetOption(r *Resolver) error {
	r.GoGetterHome = s.d
	return nil
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (s *loggerOption) SetOption(r *Resolver) error {
	r.Logger = s.l
	return nil
}

func FS(fs vfs.FS) Option {
	return &fsOption{f: fs}
}

type fsOption struct {
	f vfs.FS
}

func (s *fsOption) SetOption(r *Resolver) error {
	r.fs = s.f
	return nil
}

func GetterImpl(g Getter) Option {
	return &getterOption{g: g}
}

type getterOption struct {
	g Getter
}

func (s *getterOption) SetOption(r *Resolver) error {
	r.Getter = s.g
	return nil
}

func New(opts ...Option) (*Resolver, error) {
	r := &Resolver{}

	for _, o := range opts {
		if err := o.SetOption(r); err != nil {
			return nil, err
		}
	}

	if r.GoGetterHome == "" {
		r.GoGetterHome = r.Home
	}

	if r.Logger == nil {
		r.Logger = klogr.New()
	}

	if r.fs == nil {
		r.fs = vfs.HostOSFS
	}

	if r.Getter == nil {
		r.Getter = &GoGetter{Logger: r.Logger}
	}

	return r, nil
}

type InvalidURLError struct {
	err string
}

func (e InvalidURLError) Error() string {
	return e.err
}

type Source struct {
	Getter, Scheme, User, Host, Dir, File, RawQuery string
	IsFileMode                                      bool
}

// IsRemote reports whether src looks like a fetchable URL rather than a
// local path or a bare package name.
func IsRemote(src string) bool {
	if _, err := Parse(src); err != nil {
		return false
	}
	return true
}

func Parse(goGetterSrc string) (*Source, error) {
	items := strings.Split(goGetterSrc, "::")
	var g string
	switch len(items) {
	case 2:
		g = items[0]
		goGetterSrc = items[1]
	}

	u, err := url.Parse(goGetterSrc)
	if err != nil {
		return nil, InvalidURLError{err: fmt.Sprintf("parse url: %v", err)}
	}

	if u.Scheme == "" {
		return nil, InvalidURLError{err: fmt.Sprintf("parse url: missing scheme - probably this is a local file path? %s", goGetterSrc)}
	}

	var dir, file string
	var filemode bool
	pathComponents := strings.Split(u.Path, "@")
	if len(pathComponents) == 1 {
		dir = u.Path
		file = filepath.Base(u.Path)
		filemode = true
	} else if len(pathComponents) == 2 {
		dir = pathComponents[0]
		file = pathComponents[1]
	} else {
		return nil, fmt.Errorf("invalid src format: it must be `[<getter>::]<scheme>://<host>/<path/to/dir>@<path/to/file>?key1=val1&key2=val2: got %s", goGetterSrc)
	}

	return &Source{
		Getter:     g,
		Scheme:     u.Scheme,
		User:       u.User.String(),
		Host:       u.Host,
		Dir:        dir,
		File:       file,
		RawQuery:   u.RawQuery,
		IsFileMode: filemode,
	}, nil
}

// ResolveFile takes an URL to a remote file or a path to a local file.
// If the argument was an URL it fetches the remote content and returns the
// path of the local copy; a local path is returned unchanged.
func (r *Resolver) ResolveFile(urlOrPath string) (string, error) {
	fetched, err := r.FetchFile(urlOrPath)
	if err != nil {
		switch err.(type) {
		case InvalidURLError:
			return urlOrPath, nil
		}
		return "", err
	}
	return fetched, nil
}

// ResolveDir is ResolveFile for directories: an archive URL resolves to the
// fetched and unpacked directory.
func (r *Resolver) ResolveDir(urlOrPath string) (string, error) {
	fetched, err := r.FetchDir(urlOrPath)
	if err != nil {
		switch err.(type) {
		case InvalidURLError:
			return urlOrPath, nil
		}
		return "", err
	}
	return fetched, nil
}

func (r *Resolver) FetchFile(goGetterSrc string) (string, error) {
	u, localCopyDir, err := r.fetchSource(goGetterSrc)
	if err != nil {
		return "", err
	}

	return filepath.Join(localCopyDir, u.File), nil
}

func (r *Resolver) FetchDir(goGetterSrc string) (string, error) {
	_, localCopyDir, err := r.fetchSource(goGetterSrc)
	if err != nil {
		return "", err
	}

	return localCopyDir, nil
}

func (r *Resolver) fetchSource(goGetterSrc string) (*Source, string, error) {
	u, err := Parse(goGetterSrc)
	if err != nil {
		return nil, "", err
	}

	query := u.RawQuery

	var getterSrc string

	if u.User == "" {
		getterSrc = fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, u.Dir)
	} else {
		getterSrc = fmt.Sprintf("%s://%s@%s%s", u.Scheme, u.User, u.Host, u.Dir)
	}

	if len(query) != 0 {
		getterSrc = strings.Join([]string{getterSrc, query}, "?")
	}

	r.Logger.V(1).Info("fetching", "getter", u.Getter, "scheme", u.Scheme, "host", u.Host, "dir", u.Dir, "file", u.File)

	// The cache key is derived from the source URL so that every target
	// branch needing the same archive shares one download.
	replacer := strings.NewReplacer(":", "", "//", "_", "/", "_", ".", "_", "&", "_", "?", ".")
	getterDstDir := replacer.Replace(getterSrc)

	cached := false

	localCopyDir := filepath.Join(r.Home, getterDstDir)

	r.Logger.V(1).Info("fetching", "home", r.Home, "dst", getterDstDir, "cache-dir", localCopyDir)

	if s, err := r.fs.Stat(localCopyDir); err == nil && s != nil {
		if !s.IsDir() {
			return nil, "", fmt.Errorf("%s is not a directory. please remove it so that ship could use it for dependency caching", getterDstDir)
		}
		cached = true
	}

	if !cached {
		if u.Getter != "" {
			getterSrc = u.Getter + "::" + getterSrc
		}

		r.Logger.V(1).Info("downloading", "src", getterSrc, "dir", r.Home, "dst", getterDstDir)

		// go-getter silently fails when the destination directory already exists.
		// So we create directories down to the parent directory of the target.
		if err := vfs.MkdirAll(r.fs, filepath.Dir(localCopyDir), 0755); err != nil {
			return nil, "", err
		}

		var getterDst string
		var fileMode bool
		if u.IsFileMode {
			fileMode = true
			getterDst = filepath.Join(getterDstDir, u.File)
		} else {
			getterDst = getterDstDir
		}

		if err := r.Getter.Get(r.GoGetterHome, getterSrc, getterDst, fileMode); err != nil {
			if err2 := r.fs.RemoveAll(localCopyDir); err2 != nil {
				return nil, "", err2
			}
			return nil, "", err
		}
	}

	return u, localCopyDir, nil
}

type Getter interface {
	Get(wd, src, dst string, fileMode bool) error
}

type GoGetter struct {
	Logger logr.Logger
}

func (g *GoGetter) Get(wd, src, dst string, fileMode bool) error {
	ctx := context.Background()

	get := &getter.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     filepath.Join(wd, dst),
		Pwd:     wd,
		Mode:    getter.ClientModeDir,
		Options: []getter.ClientOption{},
	}

	if fileMode {
		get.Mode = getter.ClientModeFile
	}

	g.Logger.V(1).Info("get", "wd", wd, "src", src, "dst", dst, "filemode", fileMode)

	if err := get.Get(); err != nil {
		return fmt.Errorf("get: %v", err)
	}

	return nil
}
