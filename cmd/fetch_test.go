package main

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaignfin/internal/config"
	"github.com/sells-group/campaignfin/internal/fetcher"
	"github.com/sells-group/campaignfin/internal/resilience"
)

func zipOf(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.Create(name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestParseTables(t *testing.T) {
	tables, err := parseTables("")
	require.NoError(t, err)
	assert.Equal(t, fetcher.BulkTables, tables)

	tables, err = parseTables(" CN, itcont ,")
	require.NoError(t, err)
	assert.Equal(t, []string{"cn", "itcont"}, tables)

	_, err = parseTables("cn,itpas2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "itpas2")
}

func TestFetchAll_IndependentCycles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/data_dictionaries/cn_header_file.csv", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("CAND_ID,CAND_NAME\n"))
	})
	for _, cycle := range []string{"24", "22"} {
		archive := zipOf(t, "cn.txt", "H0NY01001|DOE, JANE Q\n")
		mux.HandleFunc("/20"+cycle+"/cn"+cycle+".zip", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(archive)
		})
	}
	mux.HandleFunc("/2020/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	quota := fetcher.NewQuotaTracker(100, time.Hour)
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Retry:             resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1},
		RequestsPerSecond: 1000,
		Quota:             quota,
	})
	root := t.TempDir()
	bulk := fetcher.NewBulk(f, srv.URL, root)

	results, err := fetchAll(context.Background(), bulk, []int{2020, 2022, 2024}, []string{"cn"}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 cycles failed")

	require.Len(t, results, 2)
	assert.Equal(t, 2024, results[0].Cycle)
	assert.Equal(t, 2022, results[1].Cycle)
	for _, r := range results {
		assert.True(t, r.Changed)
	}

	for _, cycle := range []string{"2024", "2022"} {
		data, err := os.ReadFile(filepath.Join(root, cycle, "cn.txt"))
		require.NoError(t, err)
		assert.Equal(t, "H0NY01001|DOE, JANE Q\n", string(data))
	}
	// Every cycle spends from the same quota: header HEAD, header GET and
	// archive for each.
	assert.Equal(t, 91, quota.Remaining())
}

func TestFormatFetchResults(t *testing.T) {
	var buf bytes.Buffer
	formatFetchResults(&buf, []fetcher.Result{
		{Cycle: 2024, Table: "cn", Changed: true, Bytes: 42},
		{Cycle: 2024, Table: "cm"},
		{Cycle: 2024, Table: "itoth", Missing: true},
	})
	output := buf.String()
	assert.Contains(t, output, "updated")
	assert.Contains(t, output, "unchanged")
	assert.Contains(t, output, "missing")
	assert.Contains(t, output, "42")
}

func TestFetchRetry(t *testing.T) {
	r := fetchRetry(config.FetchConfig{
		MaxRetries:        7,
		InitialBackoffMs:  250,
		MaxBackoffMs:      4000,
		MaxHintWaitSecs:   90,
		BackoffMultiplier: 1.5,
		JitterFraction:    0.1,
	})
	assert.Equal(t, 7, r.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, r.InitialBackoff)
	assert.Equal(t, 4*time.Second, r.MaxBackoff)
	assert.Equal(t, 90*time.Second, r.MaxHintWait)
	assert.InDelta(t, 1.5, r.Multiplier, 1e-9)
	assert.InDelta(t, 0.1, r.JitterFraction, 1e-9)
}
