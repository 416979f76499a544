package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/Aman-CERP/atrium/internal/index"
	"github.com/Aman-CERP/atrium/internal/library"
)

const probeFile = ".atrium-doctor-probe"

// CheckWritePermissions creates and removes a probe file in root, or in the
// nearest existing directory above it when root does not exist yet.
func (c *Checker) CheckWritePermissions(root string) Result {
	dir := existingAncestor(root)
	probe := filepath.Join(dir, probeFile)
	f, err := os.Create(probe)
	if err != nil {
		return fail("write_permissions", fmt.Sprintf("permission denied: %v", err)).required()
	}
	_ = f.Close()
	_ = os.Remove(probe)

	if dir != root {
		return pass("write_permissions", "OK (index root will be created)").required().
			detail("nearest existing directory %s", dir)
	}
	return pass("write_permissions", "OK").required()
}

// CheckLibrary loads library.json. No index yet is a warning; a corrupt
// file fails because only repair runs against it.
func (c *Checker) CheckLibrary(root string) Result {
	lib, err := library.NewStore(library.NewLayout(root)).Load()
	switch {
	case errors.Is(err, library.ErrCorrupt):
		return fail("library", "library.json is corrupt").required().
			detail("Run 'atrium repair' to rebuild it from the book directories")
	case err != nil:
		return fail("library", err.Error()).required()
	case lib == nil:
		return warn("library", "no index yet").required().detail("Run 'atrium build' to create one")
	}
	return pass("library", fmt.Sprintf("%d book(s), %d ready, %d chunks",
		len(lib.Books), len(lib.Ready()), lib.ReadyChunkCount())).required()
}

// CheckLock warns while a build or repair holds the index root lock. It
// never creates the root.
func (c *Checker) CheckLock(root string) Result {
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return pass("index_lock", "index root not created yet")
	}
	if library.NewRootLock(library.NewLayout(root)).Held() {
		return warn("index_lock", "held by a running build or repair")
	}
	return pass("index_lock", "free")
}

// CheckSourceDir counts the files a build of dir would pick up. An empty
// or unreadable dir is a warning.
func (c *Checker) CheckSourceDir(dir string) Result {
	files, err := index.EligibleFiles(dir)
	if err != nil {
		return warn("pdf_dir", err.Error()).detail("%s", dir)
	}
	if len(files) == 0 {
		return warn("pdf_dir", "no source files").detail("%s", dir)
	}
	return pass("pdf_dir", fmt.Sprintf("%d source file(s)", len(files))).detail("%s", dir)
}

// CheckRedis pings the redis job mirror. Jobs run without the mirror, so
// the check is never required.
func (c *Checker) CheckRedis(ctx context.Context, url string) Result {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return fail("redis_mirror", fmt.Sprintf("invalid redis_url: %v", err))
	}
	client := redis.NewClient(opts)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(ctx, c.redisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fail("redis_mirror", fmt.Sprintf("unreachable: %v", err)).detail("%s", opts.Addr)
	}
	return pass("redis_mirror", "reachable at "+opts.Addr)
}

func existingAncestor(path string) string {
	p := filepath.Clean(path)
	for {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
