package releaseledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/go-github/v27/github"
	"golang.org/x/oauth2"
	"k8s.io/klog/klogr"
)

// ErrTagExists is returned when the hosting endpoint already has a release
// for the requested tag. Creation is attempted exactly once per run and a
// conflict is fatal: no silent overwrite, no retry with a mutated tag.
var ErrTagExists = errors.New("release tag already exists")

// Record identifies the release every artifact of a run attaches to. It is
// produced once by CreateRelease and read-only thereafter; pass it by value
// through the job graph instead of relying on ambient identifiers.
type Record struct {
	Tag        string
	Title      string
	Draft      bool
	Prerelease bool

	ID        int64
	UploadURL string

	Owner string
	Repo  string
}

// ReleasesService is the slice of the GitHub API the ledger consumes.
type ReleasesService interface {
	CreateRelease(ctx context.Context, owner, repo string, release *github.RepositoryRelease) (*github.RepositoryRelease, *github.Response, error)
	UploadReleaseAsset(ctx context.Context, owner, repo string, id int64, opt *github.UploadOptions, file *os.File) (*github.ReleaseAsset, *github.Response, error)
}

type Client struct {
	Owner string
	Repo  string

	Logger logr.Logger

	releases ReleasesService
}

type Option interface {
	SetOption(c *Client) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (s *loggerOption) SetOption(c *Client) error {
	c.Logger = s.l
	return nil
}

// Releases injects a fake service in tests.
func Releases(svc ReleasesService) Option {
	return &releasesOption{svc: svc}
}

type releasesOption struct {
	svc ReleasesService
}

func (s *releasesOption) SetOption(c *Client) error {
	c.releases = s.svc
	return nil
}

func New(owner, repo string, opts ...Option) (*Client, error) {
	c := &Client{
		Owner: owner,
		Repo:  repo,
	}

	for _, o := range opts {
		if err := o.SetOption(c); err != nil {
			return nil, err
		}
	}

	if c.Logger == nil {
		c.Logger = klogr.New()
	}

	if c.releases == nil {
		ctx := context.Background()
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: os.Getenv("GITHUB_TOKEN")},
		)
		tc := oauth2.NewClient(ctx, ts)
		c.releases = github.NewClient(tc).Repositories
	}

	return c, nil
}

// CreateRelease creates the run's release record at the endpoint. The
// record is public immediately, before any artifact exists; a downstream
// failure leaves it partially populated and that is accepted.
func (c *Client) CreateRelease(ctx context.Context, tag, title string) (*Record, error) {
	draft := false
	prerelease := false

	rel, resp, err := c.releases.CreateRelease(ctx, c.Owner, c.Repo, &github.RepositoryRelease{
		TagName:    &tag,
		Name:       &title,
		Draft:      &draft,
		Prerelease: &prerelease,
	})
	if err != nil {
		if isTagConflict(resp, err) {
			return nil, fmt.Errorf("creating release %q: %w", tag, ErrTagExists)
		}
		return nil, fmt.Errorf("creating release %q: %w", tag, err)
	}

	c.Logger.V(1).Info("releaseledger.create", "tag", tag, "id", rel.GetID())

	return &Record{
		Tag:        tag,
		Title:      title,
		Draft:      draft,
		Prerelease: prerelease,
		ID:         rel.GetID(),
		UploadURL:  rel.GetUploadURL(),
		Owner:      c.Owner,
		Repo:       c.Repo,
	}, nil
}

// UploadAsset attaches one file to the record under name. Uploads are
// independent per asset; the endpoint accepts concurrent uploads keyed by
// distinct asset names.
func (c *Client) UploadAsset(ctx context.Context, rec *Record, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	mediaType := "application/octet-stream"
	if strings.HasSuffix(name, ".sha256") {
		mediaType = "text/plain"
	}

	_, _, err = c.releases.UploadReleaseAsset(ctx, rec.Owner, rec.Repo, rec.ID, &github.UploadOptions{
		Name:      name,
		MediaType: mediaType,
	}, f)
	if err != nil {
		return fmt.Errorf("uploading %s to %s: %w", name, rec.Tag, err)
	}

	c.Logger.V(1).Info("releaseledger.upload", "tag", rec.Tag, "asset", name)

	return nil
}

func isTagConflict(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == 422 {
		return true
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) {
		for _, e := range ghErr.Errors {
			if e.Code == "already_exists" {
				return true
			}
		}
	}

	return false
}
