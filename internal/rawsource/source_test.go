package rawsource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "2024/cn.txt", DataKey(2024, "cn"))
	assert.Equal(t, "2024/itcont_header.csv", HeaderKey(2024, "itcont"))
}

func TestFS_Open(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2024"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "2024", "cn.txt"), []byte("C001|DOE, JANE\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "2024", "cn_header.csv"), []byte("CAND_ID,CAND_NAME\n"), 0o644))

	src := FS{Root: root}
	rc, err := src.Open(context.Background(), 2024, "cn")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "C001|DOE, JANE\n", string(data))

	rc, err = src.OpenHeader(context.Background(), 2024, "cn")
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	_, err = src.Open(context.Background(), 2024, "oppexp")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

// fakeS3 serves GetObject for path-style requests.
type fakeS3 struct {
	objects map[string]string
	paths   []string
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.paths = append(f.paths, req.URL.Path)
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet {
		if body, ok := f.objects[key]; ok {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(body)),
				Header:     http.Header{"Content-Type": {"text/plain"}},
				Request:    req,
			}, nil
		}
		msg := `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(strings.NewReader(msg)),
			Header:     http.Header{"Content-Type": {"application/xml"}},
			Request:    req,
		}, nil
	}
	return &http.Response{StatusCode: http.StatusNotImplemented, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}, Request: req}, nil
}

func newFakeS3Source(t *testing.T, objects map[string]string) (*S3, *fakeS3) {
	t.Helper()
	rt := &fakeS3{objects: objects}
	src, err := NewS3(context.Background(), S3Config{
		Bucket:          "fec-mirror",
		Prefix:          "bulk",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: rt},
	})
	require.NoError(t, err)
	return src, rt
}

func TestS3_Open(t *testing.T) {
	src, rt := newFakeS3Source(t, map[string]string{
		"bulk/2024/cm.txt": "K1|DOE FOR CONGRESS\n",
	})

	rc, err := src.Open(context.Background(), 2024, "cm")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "K1|DOE FOR CONGRESS\n", string(data))
	assert.Equal(t, []string{"/fec-mirror/bulk/2024/cm.txt"}, rt.paths)
}

func TestS3_Missing(t *testing.T) {
	src, _ := newFakeS3Source(t, map[string]string{})
	_, err := src.OpenHeader(context.Background(), 2024, "cm")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	assert.Error(t, err)
}
