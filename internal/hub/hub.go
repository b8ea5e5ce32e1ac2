// Package hub downloads and caches model checkpoint files from a
// HuggingFace-style hub. Files resolve through
//
//	GET {base}/{repo}/resolve/main/{filename}
//
// and land in a local cache directory keyed by repo. Downloads write to
// uniquely named temp files and move into place atomically, so
// concurrent processes sharing a cache never observe partial files.
package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultBaseURL is the public hub endpoint. Override with the
// UNISEG_HUB_BASE environment variable or WithBaseURL.
const DefaultBaseURL = "https://huggingface.co"

// EnvBaseURL names the environment variable overriding the hub base.
const EnvBaseURL = "UNISEG_HUB_BASE"

// Client resolves and caches hub files.
type Client struct {
	baseURL  string
	cacheDir string
	http     *http.Client
	log      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the hub endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger attaches a logger; the default is no-op.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a hub client caching under cacheDir.
func New(cacheDir string, opts ...Option) (*Client, error) {
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		cacheDir = filepath.Join(home, ".cache", "uniseg")
	}
	base := DefaultBaseURL
	if env := os.Getenv(EnvBaseURL); env != "" {
		base = env
	}
	c := &Client{
		baseURL:  strings.TrimRight(base, "/"),
		cacheDir: cacheDir,
		http:     &http.Client{Timeout: 10 * time.Minute},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return c, nil
}

// CacheDir returns the local cache root.
func (c *Client) CacheDir() string { return c.cacheDir }

// cachePath is the local location of a repo file.
func (c *Client) cachePath(repo, filename string) string {
	return filepath.Join(c.cacheDir, strings.ReplaceAll(repo, "/", "--"), filename)
}

// fileURL is the remote location of a repo file.
func (c *Client) fileURL(repo, filename string) string {
	return fmt.Sprintf("%s/%s/resolve/main/%s", c.baseURL, repo, filename)
}

// Resolve returns the local path of a repo file, downloading it on a
// cache miss.
func (c *Client) Resolve(ctx context.Context, repo, filename string) (string, error) {
	path := c.cachePath(repo, filename)
	if _, err := os.Stat(path); err == nil {
		c.log.Debug("cache hit",
			zap.String("repo", repo),
			zap.String("file", filename))
		return path, nil
	}
	if err := c.download(ctx, repo, filename, path); err != nil {
		return "", err
	}
	return path, nil
}

// ResolveAll fetches several files concurrently and returns their local
// paths in input order.
func (c *Client) ResolveAll(ctx context.Context, repo string, filenames []string) ([]string, error) {
	paths := make([]string, len(filenames))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, filename := range filenames {
		g.Go(func() error {
			path, err := c.Resolve(ctx, repo, filename)
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func (c *Client) download(ctx context.Context, repo, filename, dest string) error {
	url := c.fileURL(repo, filename)
	c.log.Info("downloading",
		zap.String("repo", repo),
		zap.String("file", filename),
		zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	tmp := dest + "." + uuid.NewString() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	written, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		_ = os.Remove(tmp)
		return fmt.Errorf("short download for %s: %d of %d bytes", filename, written, resp.ContentLength)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize %s: %w", dest, err)
	}
	c.log.Info("downloaded",
		zap.String("file", filename),
		zap.Int64("bytes", written))
	return nil
}
