package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/djcass44/all-your-debs/pkg/control"
	"github.com/djcass44/all-your-debs/pkg/sources"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(dist, comp, name, version, arch, sha, source string) *Record {
	return &Record{
		Distribution: dist,
		Component:    comp,
		Control: control.FromPairs([]control.Field{
			{Key: control.FieldPackage, Value: name},
			{Key: control.FieldVersion, Value: version},
			{Key: control.FieldArchitecture, Value: arch},
			{Key: control.FieldDescription, Value: "test package\n .\n more"},
			{Key: control.FieldSHA256, Value: sha},
		}),
		SourceID:    source,
		CandidateID: name + "_" + version + "_" + arch + ".deb",
		Revision:    "rev-" + sha,
		Restore:     sources.RestoreDescriptor{Kind: sources.KindHTTP, URL: "https://example.org/" + name + ".deb"},
	}
}

func stores(t *testing.T) map[string]Store {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	ldb, err := NewLevelDB(ctx, filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ldb.Close()
	})
	return map[string]Store{
		"memory":  NewMemory(),
		"leveldb": ldb,
	}
}

func TestStore_Register(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rec := newRecord("stable", "main", "foo", "1.0", "amd64", "aaaa", "src-a")
			created, err := s.Register(ctx, rec)
			require.NoError(t, err)
			assert.True(t, created)

			out, err := s.Get(ctx, rec.Key())
			require.NoError(t, err)
			assert.EqualValues(t, rec.Control.String(), out.Control.String())
			assert.EqualValues(t, rec.Restore, out.Restore)
			assert.EqualValues(t, "src-a", out.SourceID)

			// same source and content refreshes the descriptor
			again := newRecord("stable", "main", "foo", "1.0", "amd64", "aaaa", "src-a")
			again.Restore.URL = "https://mirror.example.org/foo.deb"
			again.Revision = "etag-2"
			created, err = s.Register(ctx, again)
			require.NoError(t, err)
			assert.False(t, created)
			out, err = s.Get(ctx, rec.Key())
			require.NoError(t, err)
			assert.EqualValues(t, "https://mirror.example.org/foo.deb", out.Restore.URL)
			assert.EqualValues(t, "etag-2", out.Revision)

			// different content is a conflict
			_, err = s.Register(ctx, newRecord("stable", "main", "foo", "1.0", "amd64", "bbbb", "src-a"))
			assert.ErrorIs(t, err, ErrConflict)

			// different source is a conflict
			_, err = s.Register(ctx, newRecord("stable", "main", "foo", "1.0", "amd64", "aaaa", "src-b"))
			assert.ErrorIs(t, err, ErrConflict)

			records, err := s.List(ctx, "stable", "main", "amd64")
			require.NoError(t, err)
			assert.Len(t, records, 1)
		})
	}
}

func TestStore_RegisterConcurrent(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			var mu sync.Mutex
			var created, conflicts int
			for i := range 16 {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					source := "src-a"
					if i%2 == 0 {
						source = "src-b"
					}
					ok, err := s.Register(ctx, newRecord("stable", "main", "foo", "1.0", "amd64", "aaaa", source))
					mu.Lock()
					defer mu.Unlock()
					if ok {
						created++
					}
					if err != nil {
						assert.ErrorIs(t, err, ErrConflict)
						conflicts++
					}
				}(i)
			}
			wg.Wait()
			assert.EqualValues(t, 1, created)
			assert.EqualValues(t, 8, conflicts)

			records, err := s.List(ctx, "stable", "main", "amd64")
			require.NoError(t, err)
			assert.Len(t, records, 1)
		})
	}
}

func TestStore_Queries(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, rec := range []*Record{
				newRecord("stable", "main", "foo", "1.0", "amd64", "a", "src-a"),
				newRecord("stable", "main", "foo", "1.0", "arm64", "b", "src-a"),
				newRecord("stable", "main", "bar", "2.0", "all", "c", "src-b"),
				newRecord("stable", "contrib", "baz", "3.0", "amd64", "d", "src-c"),
				newRecord("stable-backports", "main", "foo", "1.1", "amd64", "e", "src-d"),
				newRecord("testing", "main", "foo", "1.2", "riscv64", "f", "src-a"),
			} {
				_, err := s.Register(ctx, rec)
				require.NoError(t, err)
			}

			dists, err := s.Distributions(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, []string{"stable", "stable-backports", "testing"}, dists)

			comps, err := s.Components(ctx, "stable")
			require.NoError(t, err)
			assert.EqualValues(t, []string{"contrib", "main"}, comps)

			archs, err := s.Architectures(ctx, "stable")
			require.NoError(t, err)
			assert.EqualValues(t, []string{"all", "amd64", "arm64"}, archs)

			records, err := s.List(ctx, "stable", "main", "amd64")
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.EqualValues(t, "foo", records[0].Package())

			records, err = s.List(ctx, "stable", "main", "all")
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.EqualValues(t, "bar", records[0].Package())

			rec, err := s.Get(ctx, Key{Distribution: "stable-backports", Component: "main", Name: "foo", Version: "1.1", Architecture: "amd64"})
			require.NoError(t, err)
			assert.EqualValues(t, "stable-backports", rec.Distribution)

			_, err = s.Get(ctx, Key{Distribution: "stable", Component: "main", Name: "foo", Version: "1.1", Architecture: "amd64"})
			assert.ErrorIs(t, err, ErrNotFound)

			srcs, err := s.Sources(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, []string{"src-a", "src-b", "src-c", "src-d"}, srcs)

			candidates, err := s.Candidates(ctx, "src-a")
			require.NoError(t, err)
			assert.Len(t, candidates, 3)
			assert.EqualValues(t, Registration{
				Key:      Key{Distribution: "stable", Component: "main", Name: "foo", Version: "1.0", Architecture: "arm64"},
				Revision: "rev-b",
			}, candidates["foo_1.0_arm64.deb"])

			count, err := s.DeleteSource(ctx, "src-a")
			require.NoError(t, err)
			assert.EqualValues(t, 3, count)

			dists, err = s.Distributions(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, []string{"stable", "stable-backports"}, dists)

			_, err = s.Get(ctx, Key{Distribution: "stable", Component: "main", Name: "foo", Version: "1.0", Architecture: "amd64"})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_Refresh(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rec := newRecord("stable", "main", "foo", "1.0", "amd64", "a", "src-a")
			_, err := s.Register(ctx, rec)
			require.NoError(t, err)

			rd := sources.RestoreDescriptor{Kind: sources.KindS3, Bucket: "debs", Key: "foo.deb"}
			require.NoError(t, s.Refresh(ctx, rec.Key(), "src-a", rd))

			out, err := s.Get(ctx, rec.Key())
			require.NoError(t, err)
			assert.EqualValues(t, rd, out.Restore)

			assert.ErrorIs(t, s.Refresh(ctx, rec.Key(), "src-b", rd), ErrConflict)
			missing := rec.Key()
			missing.Version = "2.0"
			assert.ErrorIs(t, s.Refresh(ctx, missing, "src-a", rd), ErrNotFound)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rec := newRecord("stable", "main", "foo", "1.0", "amd64", "a", "src-a")
			_, err := s.Register(ctx, rec)
			require.NoError(t, err)

			assert.ErrorIs(t, s.Delete(ctx, rec.Key(), "src-b"), ErrConflict)
			require.NoError(t, s.Delete(ctx, rec.Key(), "src-a"))

			_, err = s.Get(ctx, rec.Key())
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, rec.Key(), "src-a"), ErrNotFound)

			// the key is free again, so different content is accepted
			created, err := s.Register(ctx, newRecord("stable", "main", "foo", "1.0", "amd64", "b", "src-a"))
			require.NoError(t, err)
			assert.True(t, created)
		})
	}
}

func TestLevelDB_Persists(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	path := filepath.Join(t.TempDir(), "db")

	s, err := NewLevelDB(ctx, path)
	require.NoError(t, err)
	rec := newRecord("stable", "main", "foo", "1.0", "amd64", "a", "src-a")
	_, err = s.Register(ctx, rec)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewLevelDB(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	out, err := s.Get(ctx, rec.Key())
	require.NoError(t, err)
	assert.EqualValues(t, rec.Control.String(), out.Control.String())
	assert.EqualValues(t, rec.Control.Keys(), out.Control.Keys())
}
