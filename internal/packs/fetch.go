package packs

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/library"
	"github.com/Aman-CERP/atrium/pkg/version"
)

const (
	maxManifestBytes = 1 << 20
	maxEntryBytes    = 512 << 20
)

// StatusError is an HTTP response other than 200.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Fetcher downloads pack manifests, archives and sources over HTTP.
// Network errors and 5xx/429 responses are retried with backoff; other
// statuses fail at once.
type Fetcher struct {
	client *http.Client
	retry  aerrors.RetryConfig
}

// NewFetcher creates a fetcher. A nil client uses a client with a 5 minute
// timeout.
func NewFetcher(client *http.Client, retry aerrors.RetryConfig) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = retryable
	}
	return &Fetcher{client: client, retry: retry}
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Get returns the body of a small document such as pack.json.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	data, err := aerrors.RetryWithResult(ctx, f.retry, func() ([]byte, error) {
		resp, err := f.do(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	})
	if err != nil {
		return nil, downloadError(rawURL, err)
	}
	return data, nil
}

// Download writes the body at rawURL to dest atomically.
func (f *Fetcher) Download(ctx context.Context, rawURL, dest string) error {
	err := aerrors.Retry(ctx, f.retry, func() error {
		resp, err := f.do(ctx, rawURL)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return writeStream(dest, resp.Body)
	})
	if err != nil {
		return downloadError(rawURL, err)
	}
	return nil
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "atrium/"+version.Version)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	return resp, nil
}

func downloadError(rawURL string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := "download failed"
	var se *StatusError
	if errors.As(err, &se) {
		msg = fmt.Sprintf("download failed: %d %s", se.Code, http.StatusText(se.Code))
	}
	return aerrors.New(aerrors.ErrCodeDownloadFailed, msg, err).WithDetail("url", rawURL)
}

// writeStream copies r into dest through a .tmp file and a rename.
func writeStream(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + library.TmpSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// ReadZipManifest reads and validates pack.json from the root of a pack
// archive.
func ReadZipManifest(zipPath string) (*Manifest, error) {
	return readZipManifest(zipPath, nil)
}

func readZipManifest(zipPath string, policy []string) (*Manifest, error) {
	zr, err := zip.OpenReader(zipPath)
	if errors.Is(err, zip.ErrInsecurePath) {
		zr.Close()
		return nil, aerrors.ValidationError("pack archive has entries outside the extraction directory", err)
	}
	if err != nil {
		return nil, aerrors.New(aerrors.ErrCodeInvalidManifest, "pack archive is not a valid zip", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != ManifestFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, aerrors.New(aerrors.ErrCodeInvalidManifest, "open pack.json in archive", err)
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxManifestBytes))
		rc.Close()
		if err != nil {
			return nil, aerrors.New(aerrors.ErrCodeInvalidManifest, "read pack.json in archive", err)
		}
		return parseManifest(data, policy)
	}
	return nil, aerrors.New(aerrors.ErrCodeInvalidManifest, "pack archive has no pack.json", nil)
}

// ExtractZip unpacks zipPath into dest. Entries that would land outside
// dest, and anything that is not a regular file or directory, are
// rejected before anything is written.
func ExtractZip(zipPath, dest string) error {
	zr, err := zip.OpenReader(zipPath)
	if errors.Is(err, zip.ErrInsecurePath) {
		zr.Close()
		return aerrors.ValidationError("pack archive has entries outside the extraction directory", err)
	}
	if err != nil {
		return fmt.Errorf("open pack archive: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if !safeEntry(f) {
			return aerrors.ValidationError(fmt.Sprintf("pack archive entry %q escapes the extraction directory", f.Name), nil)
		}
	}
	for _, f := range zr.File {
		target := filepath.Join(dest, filepath.FromSlash(f.Name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractEntry(f, target); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func safeEntry(f *zip.File) bool {
	name := strings.TrimSuffix(f.Name, "/")
	if name == "" || strings.Contains(name, `\`) || !filepath.IsLocal(filepath.FromSlash(name)) {
		return false
	}
	mode := f.Mode()
	return mode.IsDir() || mode.IsRegular()
}

func extractEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	lr := &io.LimitedReader{R: rc, N: maxEntryBytes + 1}
	if err := writeStream(target, lr); err != nil {
		return err
	}
	if lr.N == 0 {
		_ = os.Remove(target)
		return fmt.Errorf("entry larger than %d bytes", maxEntryBytes)
	}
	return nil
}
