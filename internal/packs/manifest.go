// Package packs installs content packs: bundles of source documents with
// licensing metadata described by a pack.json manifest.
//
// A pack is validated and resolved before any job exists. Installation then
// fetches each book's source, ingests it as one unit through the index
// builder, and copies the pack's license files next to the index.
package packs

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
)

// Pack archive layout.
const (
	ManifestFile    = "pack.json"
	LicensesDir     = "LICENSES"
	SourcesDir      = "sources"
	AttributionFile = "attribution.json"
	NoticesFile     = "THIRD_PARTY_NOTICES.txt"
)

// DefaultAllowedLicenses applies when a manifest has no allowed_licenses.
var DefaultAllowedLicenses = []string{"CC BY 4.0", "CC BY-SA 4.0"}

// License describes the terms a book is distributed under.
type License struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	ProofURL string `json:"proof_url,omitempty"`
}

// Book is one source document of a pack.
type Book struct {
	SourceFile  string  `json:"source_file"`
	Title       string  `json:"title"`
	Author      string  `json:"author,omitempty"`
	SourceURL   string  `json:"source_url"`
	License     License `json:"license"`
	Attribution string  `json:"attribution,omitempty"`
}

// Manifest is the content of pack.json.
type Manifest struct {
	PackID          string   `json:"pack_id"`
	Version         string   `json:"version"`
	Title           string   `json:"title"`
	PathID          string   `json:"path_id,omitempty"`
	Books           []Book   `json:"books"`
	AllowedLicenses []string `json:"allowed_licenses,omitempty"`
}

// ParseManifest decodes pack.json content and validates it against the
// default license policy.
func ParseManifest(data []byte) (*Manifest, error) {
	return parseManifest(data, nil)
}

// LoadManifest reads and validates a pack.json file.
func LoadManifest(path string) (*Manifest, error) {
	return loadManifest(path, nil)
}

func parseManifest(data []byte, policy []string) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, aerrors.New(aerrors.ErrCodeInvalidManifest, "pack.json is not valid JSON", err)
	}
	if err := m.ValidatePolicy(policy); err != nil {
		return nil, err
	}
	return &m, nil
}

func loadManifest(path string, policy []string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, aerrors.New(aerrors.ErrCodeInvalidManifest, "pack.json not found", err).WithDetail("path", path)
		}
		return nil, aerrors.IOError("read pack.json", err)
	}
	return parseManifest(data, policy)
}

// Allowed returns the license types this pack accepts: its own
// allowed_licenses, else policy, else DefaultAllowedLicenses.
func (m *Manifest) Allowed(policy []string) []string {
	switch {
	case len(m.AllowedLicenses) > 0:
		return m.AllowedLicenses
	case len(policy) > 0:
		return policy
	}
	return DefaultAllowedLicenses
}

// Validate checks the manifest against the default license policy.
func (m *Manifest) Validate() error { return m.ValidatePolicy(nil) }

// ValidatePolicy checks the manifest schema and that every book's license
// is allowed. Every problem is reported in a single error.
func (m *Manifest) ValidatePolicy(policy []string) error {
	var problems []string
	licenseOnly := true
	add := func(license bool, format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
		licenseOnly = licenseOnly && license
	}

	switch {
	case strings.TrimSpace(m.PackID) == "":
		add(false, "pack_id is required")
	case !validPackID(m.PackID):
		add(false, "pack_id %q may only contain letters, digits, '-', '_' and '.'", m.PackID)
	}
	if strings.TrimSpace(m.Version) == "" {
		add(false, "version is required")
	}
	if len(m.Books) == 0 {
		add(false, "books must not be empty")
	}

	allowed := m.Allowed(policy)
	seen := map[string]bool{}
	for i, b := range m.Books {
		where := fmt.Sprintf("books[%d]", i)
		if b.SourceFile == "" {
			add(false, "%s: source_file is required", where)
		} else {
			where = fmt.Sprintf("books[%d] (%s)", i, b.SourceFile)
			if strings.ContainsAny(b.SourceFile, `/\`) || b.SourceFile == "." || b.SourceFile == ".." {
				add(false, "%s: source_file must be a plain file name", where)
			}
			if seen[b.SourceFile] {
				add(false, "%s: duplicate source_file", where)
			}
			seen[b.SourceFile] = true
		}
		if strings.TrimSpace(b.Title) == "" {
			add(false, "%s: title is required", where)
		}
		if !httpURL(b.SourceURL) {
			add(false, "%s: source_url must be an http(s) URL", where)
		}
		if !httpURL(b.License.URL) {
			add(false, "%s: license.url must be an http(s) URL", where)
		}
		if b.License.ProofURL != "" && !httpURL(b.License.ProofURL) {
			add(false, "%s: license.proof_url must be an http(s) URL", where)
		}
		switch {
		case b.License.Type == "":
			add(false, "%s: license.type is required", where)
		case !slices.Contains(allowed, b.License.Type):
			add(true, "%s: license %q is not allowed (allowed: %s)", where, b.License.Type, strings.Join(allowed, ", "))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	code := aerrors.ErrCodeInvalidManifest
	if licenseOnly {
		code = aerrors.ErrCodeLicenseNotAllowed
	}
	msg := fmt.Sprintf("invalid pack manifest: %s", strings.Join(problems, "; "))
	e := aerrors.New(code, msg, nil).WithDetail("problems", fmt.Sprint(len(problems)))
	if m.PackID != "" {
		e = e.WithDetail("pack_id", m.PackID)
	}
	return e
}

func validPackID(id string) bool {
	if id == "." || id == ".." {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

func httpURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Attribution is the LICENSES/attribution.json document shipped with a pack.
type Attribution struct {
	PackID  string            `json:"pack_id"`
	Version string            `json:"version"`
	Title   string            `json:"title"`
	Books   []AttributionBook `json:"books"`
}

// AttributionBook credits one book.
type AttributionBook struct {
	SourceFile  string  `json:"source_file"`
	Title       string  `json:"title"`
	Author      string  `json:"author,omitempty"`
	SourceURL   string  `json:"source_url"`
	License     License `json:"license"`
	Attribution string  `json:"attribution,omitempty"`
}

// Attribution returns the attribution document for the manifest.
func (m *Manifest) Attribution() Attribution {
	a := Attribution{PackID: m.PackID, Version: m.Version, Title: m.Title, Books: make([]AttributionBook, 0, len(m.Books))}
	for _, b := range m.Books {
		a.Books = append(a.Books, AttributionBook(b))
	}
	return a
}
