package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
)

func TestFamilyKey(t *testing.T) {
	tests := map[string]string{
		"Calculus  Vol 1.pdf":        "calculus vol 1",
		"calculus vol 1 .PDF":        "calculus vol 1",
		"dir/Intro\tTo   Biology.pdf": "intro to biology",
	}
	for in, want := range tests {
		assert.Equal(t, want, FamilyKey(in), in)
	}
}

func TestStore_LoadMissingReturnsNil(t *testing.T) {
	// Given: an empty index root
	s := NewStore(NewLayout(t.TempDir()))

	// When: loading
	lib, err := s.Load()

	// Then: no library and no error
	require.NoError(t, err)
	assert.Nil(t, lib)
}

func TestStore_UpdateWritesAtomically(t *testing.T) {
	// Given: a store with a fixed clock
	root := t.TempDir()
	s := NewStore(NewLayout(root))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	// When: adding a book
	err := s.Update(func(lib *Library) error {
		lib.Upsert(&Book{BookID: "abc", Filename: "a.pdf", Status: StatusReady, ChunkCount: 3})
		return nil
	})

	// Then: library.json holds it and no temp file remains
	require.NoError(t, err)
	lib, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, lib)
	assert.Equal(t, Version, lib.Version)
	assert.Equal(t, now, lib.UpdatedAt)
	require.NotNil(t, lib.Find("abc"))
	assert.Equal(t, 3, lib.ReadyChunkCount())
	_, statErr := os.Stat(filepath.Join(root, LibraryFile+TmpSuffix))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_UpdateFailureWritesNothing(t *testing.T) {
	s := NewStore(NewLayout(t.TempDir()))
	boom := errors.New("boom")

	err := s.Update(func(lib *Library) error {
		lib.Upsert(&Book{BookID: "x"})
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, s.Layout().Exists())
}

func TestStore_LoadCorrupt(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, LibraryFile), []byte("{not json"), 0o644))

	_, err := NewStore(NewLayout(root)).Load()

	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_BookRoundTrip(t *testing.T) {
	s := NewStore(NewLayout(t.TempDir()))

	missing, err := s.ReadBook("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.WriteBook(&Book{BookID: "b1", Filename: "Physics.pdf", Status: StatusReady}))
	got, err := s.ReadBook("b1")
	require.NoError(t, err)
	assert.Equal(t, "Physics", got.DisplayTitle())
}

func TestStore_CheckRevision(t *testing.T) {
	s := NewStore(NewLayout(t.TempDir()))
	require.NoError(t, s.Update(func(*Library) error { return nil }))
	lib, err := s.Load()
	require.NoError(t, err)
	rev := lib.Revision()

	// Then: the current revision and empty revisions pass
	assert.NoError(t, s.CheckRevision(rev))
	assert.NoError(t, s.CheckRevision(""))

	// When: the library changes
	s.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	require.NoError(t, s.Update(func(*Library) error { return nil }))

	// Then: the old revision is stale
	err = s.CheckRevision(rev)
	assert.True(t, aerrors.IsConflict(err))
	assert.Equal(t, aerrors.ErrCodeStale, aerrors.GetCode(err))
}

func TestLibrary_Supersede(t *testing.T) {
	// Given: an old ready edition and a broken one in the same family
	lib := NewLibrary(time.Now())
	old := &Book{BookID: "old", Filename: "Chem.pdf", Status: StatusReady}
	broken := &Book{BookID: "bad", Filename: "chem.pdf", Status: StatusError}
	other := &Book{BookID: "bio", Filename: "Bio.pdf", Status: StatusReady}
	lib.Books = []*Book{old, broken, other}

	// When: a new edition is registered
	fresh := &Book{BookID: "new", Filename: "CHEM.pdf", Status: StatusReady}
	lib.Upsert(fresh)
	lib.Supersede(fresh)

	// Then: only the ready edition of the family is superseded
	assert.Equal(t, []string{"old"}, fresh.Supersedes)
	assert.Equal(t, []string{"new"}, old.SupersededBy)
	assert.Empty(t, broken.SupersededBy)
	assert.Empty(t, other.SupersededBy)
	assert.Equal(t, "new", lib.ActiveByFamily()["chem"])
}

func TestInferSupersedes_NewestWins(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &Book{BookID: "a", Filename: "Algebra.pdf", Status: StatusReady, UpdatedAt: t0}
	b := &Book{BookID: "b", Filename: "algebra.pdf", Status: StatusReady, UpdatedAt: t0.Add(time.Hour)}
	c := &Book{BookID: "c", Filename: "Geometry.pdf", Status: StatusReady, UpdatedAt: t0}

	InferSupersedes([]*Book{a, b, c})

	assert.Equal(t, []string{"b"}, a.SupersededBy)
	assert.Equal(t, []string{"a"}, b.Supersedes)
	assert.Empty(t, c.Supersedes)
	assert.Empty(t, c.SupersededBy)
}

func TestRootLock_ExclusiveIsBusy(t *testing.T) {
	// Given: a build holding the root lock
	lock := NewRootLock(NewLayout(t.TempDir()))
	release, err := lock.TryExclusive()
	require.NoError(t, err)
	assert.True(t, lock.Held())

	// When: a second build or repair tries to start
	_, err = lock.TryExclusive()

	// Then: it fails immediately with busy
	require.Error(t, err)
	assert.Equal(t, aerrors.ErrCodeBusy, aerrors.GetCode(err))

	// And: a shared holder waits until the context gives up
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err = lock.Shared(ctx)
	assert.Error(t, err)

	// When: the build finishes
	release()
	release()

	// Then: the lock can be taken again
	assert.False(t, lock.Held())
	release2, err := lock.TryExclusive()
	require.NoError(t, err)
	release2()
}

func TestRootLock_SharedHoldersCoexist(t *testing.T) {
	lock := NewRootLock(NewLayout(t.TempDir()))
	ctx := context.Background()

	r1, err := lock.Shared(ctx)
	require.NoError(t, err)
	r2, err := lock.Shared(ctx)
	require.NoError(t, err)

	// A build cannot start while uploads commit
	_, err = lock.TryExclusive()
	assert.True(t, aerrors.IsConflict(err))

	r1()
	r2()
	release, err := lock.TryExclusive()
	require.NoError(t, err)
	release()
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	sum, err := HashFile(path)

	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}

func TestCopyFileAtomic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4"), 0o644))
	dst := filepath.Join(dir, "books", "id", "source.pdf")

	require.NoError(t, CopyFileAtomic(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	found, ok := NewLayout(dir).FindSource("id")
	assert.True(t, ok)
	assert.Equal(t, dst, found)
}
