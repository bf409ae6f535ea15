package fetcher

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func createTestZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "test.zip")
	require.NoError(t, os.WriteFile(zipPath, zipBytes(t, files), 0o644))
	return zipPath
}

func TestExtractMember(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"itcont.txt":           "C1|A\n",
		"by_date/itcont_1.txt": "partial",
	})
	dest := filepath.Join(t.TempDir(), "itcont.txt")

	n, err := ExtractMember(zipPath, "itcont.txt", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "C1|A\n", string(data))
}

func TestExtractMember_NestedByBaseName(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{"data/cn.txt": "nested"})
	dest := filepath.Join(t.TempDir(), "cn.txt")

	_, err := ExtractMember(zipPath, "cn.txt", dest)
	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "nested", string(data))
}

func TestExtractMember_Missing(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{"other.txt": "x"})
	_, err := ExtractMember(zipPath, "cn.txt", filepath.Join(t.TempDir(), "cn.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in archive")
}

func TestExtractMember_BadArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	_, err := ExtractMember(path, "cn.txt", filepath.Join(t.TempDir(), "cn.txt"))
	require.Error(t, err)
}
