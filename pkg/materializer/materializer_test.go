package materializer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestMaterializer(t *testing.T) *Materializer {
	t.Helper()
	root := t.TempDir()
	m, err := New(Config{Root: root})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestEnsureWriteMethod(t *testing.T) {
	m := newTestMaterializer(t)

	require.NoError(t, m.Declare("out/hello.txt", Entry{
		Method: Method{Kind: MethodWrite, Bytes: []byte("hello world")},
	}))

	results := m.Ensure(context.Background(), []string{"out/hello.txt"})
	var got []PathResult
	for r := range results {
		got = append(got, r)
	}
	require.Len(t, got, 1)
	require.NoError(t, got[0].Err)
	require.Equal(t, "file", got[0].Meta.ArtifactType)

	data, err := os.ReadFile(filepath.Join(m.cfg.Root, "out/hello.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestDeclareRedeclareNoCleanup(t *testing.T) {
	m := newTestMaterializer(t)
	entry := Entry{Method: Method{Kind: MethodWrite, Bytes: []byte("same")}}

	require.NoError(t, m.Declare("out/a.txt", entry))
	r := <-m.Ensure(context.Background(), []string{"out/a.txt"})
	require.NoError(t, r.Err)

	firstAccess := r.Meta.LastAccessTime

	// Redeclare with an identical method: no cleanup task, state stays
	// Materialized.
	require.NoError(t, m.Declare("out/a.txt", entry))

	var ps *pathState
	m.q.runHigh(func() { ps = m.paths["out/a.txt"] })
	require.Equal(t, stateMaterialized, ps.kind)
	require.Nil(t, ps.cleaning)
	require.True(t, ps.meta.LastAccessTime.Equal(firstAccess) || ps.meta.LastAccessTime.After(firstAccess))
}

func TestDeclareRedeclareDifferentMethodSchedulesCleanup(t *testing.T) {
	m := newTestMaterializer(t)

	require.NoError(t, m.Declare("out/b.txt", Entry{Method: Method{Kind: MethodWrite, Bytes: []byte("v1")}}))
	r := <-m.Ensure(context.Background(), []string{"out/b.txt"})
	require.NoError(t, r.Err)

	require.NoError(t, m.Declare("out/b.txt", Entry{Method: Method{Kind: MethodWrite, Bytes: []byte("v2")}}))

	r2 := <-m.Ensure(context.Background(), []string{"out/b.txt"})
	require.NoError(t, r2.Err)

	data, err := os.ReadFile(filepath.Join(m.cfg.Root, "out/b.txt"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(data))
}

func TestInvalidateRemovesPath(t *testing.T) {
	m := newTestMaterializer(t)
	require.NoError(t, m.Declare("out/c.txt", Entry{Method: Method{Kind: MethodWrite, Bytes: []byte("c")}}))
	<-m.Ensure(context.Background(), []string{"out/c.txt"})

	done := m.Invalidate([]string{"out/c.txt"})
	<-done

	_, ok := m.GetPath("out/c.txt")
	require.False(t, ok)
}

func TestMatchArtifacts(t *testing.T) {
	m := newTestMaterializer(t)
	entry := Entry{Method: Method{Kind: MethodWrite, Bytes: []byte("x")}}
	require.NoError(t, m.Declare("out/d.txt", entry))

	require.True(t, m.MatchArtifacts(map[string]Entry{"out/d.txt": entry}))
	require.False(t, m.MatchArtifacts(map[string]Entry{
		"out/d.txt": {Method: Method{Kind: MethodWrite, Bytes: []byte("y")}},
	}))
	require.False(t, m.MatchArtifacts(map[string]Entry{"out/missing.txt": entry}))
}

func TestEnsureMissingPathErrors(t *testing.T) {
	m := newTestMaterializer(t)
	r := <-m.Ensure(context.Background(), []string{"nope"})
	require.Error(t, r.Err)
	var nf *NotFoundError
	require.ErrorAs(t, r.Err, &nf)
}

func TestDeclareWriteDeferred(t *testing.T) {
	m := newTestMaterializer(t)
	require.NoError(t, m.DeclareWrite("out/e.txt", []byte("deferred content"), false))

	r := <-m.Ensure(context.Background(), []string{"out/e.txt"})
	require.NoError(t, r.Err)

	data, err := os.ReadFile(filepath.Join(m.cfg.Root, "out/e.txt"))
	require.NoError(t, err)
	require.Equal(t, "deferred content", string(data))
}

func TestEnsureRecursesIntoDeps(t *testing.T) {
	m := newTestMaterializer(t)
	require.NoError(t, m.Declare("out/base.txt", Entry{Method: Method{Kind: MethodWrite, Bytes: []byte("base")}}))
	require.NoError(t, m.Declare("out/derived.txt", Entry{
		Method: Method{Kind: MethodLocalCopy, CopyFrom: []string{"out/base.txt"}},
		Deps:   []string{"out/base.txt"},
	}))

	r := <-m.Ensure(context.Background(), []string{"out/derived.txt"})
	require.NoError(t, r.Err)

	data, err := os.ReadFile(filepath.Join(m.cfg.Root, "out/derived.txt"))
	require.NoError(t, err)
	require.Equal(t, "base", string(data))
}
