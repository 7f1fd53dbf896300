package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-id/internal/embeddings"
	"voice-id/internal/identity"
	"voice-id/internal/profilestore"
)

func seed(t *testing.T) string {
	t.Helper()
	for _, key := range []string{"CACHE_PROVIDER", "EVENTS_PROVIDER", "CATALOG_PROVIDER", "BACKUP_DIR", "METADATA_EXPORT_PATH"} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	st, err := profilestore.New(dir)
	require.NoError(t, err)
	for id, samples := range map[string][]embeddings.Vector{
		"alice": {{0.1, 0.2, 0.3}, {0.3, 0.2, 0.1}},
		"bob":   {{1, 0, 0}},
	} {
		sp := identity.New(id)
		for _, v := range samples {
			require.NoError(t, sp.AddSample(v))
		}
		require.True(t, st.Save(sp))
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestList(t *testing.T) {
	dir := seed(t)

	out, err := run(t, "--dir", dir, "list")
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0]["speaker_id"])
	assert.EqualValues(t, 2, got[0]["sample_count"])
	assert.EqualValues(t, 3, got[0]["dimension"])
	assert.Equal(t, "bob", got[1]["speaker_id"])
}

func TestStatsAndCleanup(t *testing.T) {
	dir := seed(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.profile"), []byte("old format"), 0o644))

	out, err := run(t, "--dir", dir, "stats")
	require.NoError(t, err)
	var stats profilestore.StorageStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.TotalSpeakers)
	assert.Equal(t, 3, stats.TotalSamples)
	assert.Equal(t, 3, stats.DiskProfiles)
	assert.Equal(t, 1, stats.OrphanedFiles)

	out, err = run(t, "--dir", dir, "cleanup")
	require.NoError(t, err)
	assert.JSONEq(t, `{"removed":1}`, out)
	assert.NoFileExists(t, filepath.Join(dir, "stale.profile"))
	assert.FileExists(t, filepath.Join(dir, "alice.profile"))
}

func TestInspect(t *testing.T) {
	dir := seed(t)

	out, err := run(t, "inspect", filepath.Join(dir, "bob.profile"))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "bob", got["speaker_id"])
	assert.EqualValues(t, 3, got["dimension"])

	bad := filepath.Join(dir, "bad.profile")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o644))
	_, err = run(t, "inspect", bad)
	assert.Error(t, err)

	_, err = run(t, "inspect")
	assert.Error(t, err)
}

func TestBackupAndExport(t *testing.T) {
	dir := seed(t)
	target := filepath.Join(t.TempDir(), "b")

	_, err := run(t, "--dir", dir, "backup", "--target", target)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(target, "alice.profile"))
	assert.FileExists(t, filepath.Join(target, "bob.profile"))

	_, err = run(t, "--dir", dir, "backup")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, profilestore.BackupDirName, "bob.profile"))

	output := filepath.Join(t.TempDir(), "meta.json")
	out, err := run(t, "--dir", dir, "export", "-o", output)
	require.NoError(t, err)
	var exp profilestore.MetadataExport
	require.NoError(t, json.Unmarshal([]byte(out), &exp))
	assert.Equal(t, 2, exp.TotalSpeakers)
	assert.True(t, exp.Profiles["alice"].FileExists)
	assert.FileExists(t, output)
}

func TestRemove(t *testing.T) {
	dir := seed(t)

	_, err := run(t, "--dir", dir, "remove", "bob")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "bob.profile"))

	_, err = run(t, "--dir", dir, "remove", "bob")
	assert.Error(t, err)
}

func TestRequiresDirectory(t *testing.T) {
	t.Setenv("PROFILE_STORAGE_DIR", "")

	_, err := run(t, "list")
	assert.ErrorContains(t, err, "profile directory is required")
}
