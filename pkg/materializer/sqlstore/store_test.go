package sqlstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenFreshInitializesSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	version, err := s.getVersionLocked("schema")
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion, version)
}

func TestPutGetRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	rec := Record{
		Path:           "out/a.txt",
		ArtifactType:   "file",
		DigestSize:     11,
		DigestSHA1:     []byte{1, 2, 3},
		Executable:     true,
		LastAccessTime: time.Now().Truncate(time.Second),
	}
	require.NoError(t, s.Put(rec))

	got, ok, err := s.Get("out/a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.ArtifactType, got.ArtifactType)
	require.Equal(t, rec.DigestSize, got.DigestSize)
	require.Equal(t, rec.Executable, got.Executable)
	require.True(t, rec.LastAccessTime.Equal(got.LastAccessTime))

	_, ok, err = s.Get("out/missing.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOpenWipesOnSchemaMismatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Put(Record{Path: "out/a.txt", ArtifactType: "file"}))
	require.NoError(t, s.setVersionLocked("schema", "0-stale"))
	require.NoError(t, s.Close())

	reopened, err := Open(dbPath)
	require.True(t, errors.Is(err, ErrSchemaMismatch))
	require.NotNil(t, reopened)
	defer reopened.Close()

	_, ok, getErr := reopened.Get("out/a.txt")
	require.NoError(t, getErr)
	require.False(t, ok, "wiped database should not retain rows from the mismatched schema version")

	version, verErr := reopened.getVersionLocked("schema")
	require.NoError(t, verErr)
	require.Equal(t, CurrentSchemaVersion, version)
}

func TestObservabilityMetadataRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetObservability("config_fingerprint", "abc123"))
	value, ok, err := s.GetObservability("config_fingerprint")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc123", value)

	_, ok, err = s.GetObservability("missing_key")
	require.NoError(t, err)
	require.False(t, ok)
}
