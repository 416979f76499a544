package packs

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/library"
)

// Request asks for a pack to be installed.
type Request struct {
	PackID      string `json:"pack_id"`
	PackTitle   string `json:"pack_title,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

// Source is a validated pack ready to install. It owns a staging
// directory that Close removes.
type Source struct {
	Manifest *Manifest
	Title    string

	// dir holds pack.json, sources/ and LICENSES/ once available locally.
	dir string
	// archive is a staged zip that Install extracts into dir.
	archive string
	staging string
}

// Close removes the staging directory.
func (s *Source) Close() error {
	if s == nil || s.staging == "" {
		return nil
	}
	return os.RemoveAll(s.staging)
}

// Resolver locates and validates pack manifests. Packs are looked up in
// the local dist directory first, then at the request's download URL.
type Resolver struct {
	distDir string
	tempDir string
	fetcher *Fetcher
	policy  []string
}

// NewResolver creates a resolver. tempDir "" uses the system temp dir.
func NewResolver(distDir, tempDir string, fetcher *Fetcher) *Resolver {
	return &Resolver{distDir: distDir, tempDir: tempDir, fetcher: fetcher}
}

// WithLicensePolicy sets the licenses accepted from manifests that do not
// list their own allowed_licenses.
func (r *Resolver) WithLicensePolicy(allowed []string) *Resolver {
	r.policy = allowed
	return r
}

// Resolve finds the pack for req and validates its manifest. Remote
// manifests and archives are downloaded here, before any job exists and
// before any index lock is taken.
//
// download_url may be:
//   - empty, when <dist>/<pack_id>/pack.json exists
//   - a .zip path relative to the dist directory, or an http(s) .zip URL
//   - an http(s) base URL serving <base>/pack.json
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Source, error) {
	if strings.TrimSpace(req.PackID) == "" {
		return nil, aerrors.ValidationError("pack_id is required", nil)
	}
	if !validPackID(req.PackID) {
		return nil, aerrors.ValidationError(fmt.Sprintf("invalid pack_id %q", req.PackID), nil)
	}

	staging, err := os.MkdirTemp(r.tempDir, "atrium-pack-"+req.PackID+"-*")
	if err != nil {
		return nil, aerrors.IOError("create pack staging dir", err)
	}
	src := &Source{staging: staging}
	if err := r.resolve(ctx, req, src); err != nil {
		_ = src.Close()
		return nil, err
	}
	if src.Manifest.PackID != req.PackID {
		_ = src.Close()
		return nil, aerrors.New(aerrors.ErrCodeInvalidManifest,
			fmt.Sprintf("pack.json declares pack_id %q, requested %q", src.Manifest.PackID, req.PackID), nil)
	}
	src.Title = firstNonEmpty(req.PackTitle, src.Manifest.Title, req.PackID)
	return src, nil
}

func (r *Resolver) resolve(ctx context.Context, req Request, src *Source) error {
	if r.distDir != "" {
		dir := filepath.Join(r.distDir, req.PackID)
		if fileExists(filepath.Join(dir, ManifestFile)) {
			m, err := loadManifest(filepath.Join(dir, ManifestFile), r.policy)
			if err != nil {
				return err
			}
			src.Manifest, src.dir = m, dir
			return nil
		}
	}

	raw := strings.TrimSpace(req.DownloadURL)
	switch {
	case raw == "":
		return aerrors.NotFoundError("pack", req.PackID).
			WithSuggestion("Pass download_url or place the pack under the packs directory")
	case isZip(raw):
		archive := filepath.Join(src.staging, req.PackID+".zip")
		if err := r.stageArchive(ctx, raw, archive); err != nil {
			return err
		}
		m, err := readZipManifest(archive, r.policy)
		if err != nil {
			return err
		}
		src.Manifest, src.archive = m, archive
		return nil
	case httpURL(raw):
		data, err := r.fetcher.Get(ctx, strings.TrimSuffix(raw, "/")+"/"+ManifestFile)
		if err != nil {
			return err
		}
		m, err := parseManifest(data, r.policy)
		if err != nil {
			return err
		}
		src.Manifest = m
		return nil
	}
	return aerrors.ValidationError("download_url must be an http(s) URL or a .zip in the packs directory", nil).
		WithDetail("download_url", raw)
}

// stageArchive copies a local dist archive or downloads a remote one.
func (r *Resolver) stageArchive(ctx context.Context, raw, dest string) error {
	if httpURL(raw) {
		return r.fetcher.Download(ctx, raw, dest)
	}
	rel := filepath.FromSlash(strings.TrimLeft(raw, "/"))
	if r.distDir == "" || !filepath.IsLocal(rel) {
		return aerrors.ValidationError(fmt.Sprintf("pack archive %q is outside the packs directory", raw), nil)
	}
	local := filepath.Join(r.distDir, rel)
	if !fileExists(local) {
		return aerrors.NotFoundError("pack", raw)
	}
	if err := library.CopyFileAtomic(local, dest); err != nil {
		return aerrors.IOError("stage pack archive", err)
	}
	return nil
}

func isZip(raw string) bool {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.EqualFold(filepath.Ext(p), ".zip")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
