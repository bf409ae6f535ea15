package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/rawsource"
)

// DefaultBaseURL is the FEC bulk download root.
const DefaultBaseURL = "https://www.fec.gov/files/bulk-downloads"

// bulkFile names a table's archive, the data file inside it, and its
// header dictionary.
type bulkFile struct {
	archive string
	member  string
}

var bulkFiles = map[string]bulkFile{
	"cn":     {archive: "cn", member: "cn.txt"},
	"cm":     {archive: "cm", member: "cm.txt"},
	"ccl":    {archive: "ccl", member: "ccl.txt"},
	"itcont": {archive: "indiv", member: "itcont.txt"},
	"itoth":  {archive: "oth", member: "itoth.txt"},
	"oppexp": {archive: "oppexp", member: "oppexp.txt"},
}

// BulkTables lists every table Bulk can fetch, masters first.
var BulkTables = []string{"cn", "cm", "ccl", "itcont", "itoth", "oppexp"}

// ArchiveURL is the bulk archive URL for a table in a cycle, e.g.
// {base}/2024/indiv24.zip.
func ArchiveURL(base string, cycle int, table string) (string, error) {
	bf, ok := bulkFiles[table]
	if !ok {
		return "", eris.Errorf("fetcher: unknown bulk table %q", table)
	}
	return url.JoinPath(base, fmt.Sprint(cycle), fmt.Sprintf("%s%02d.zip", bf.archive, cycle%100))
}

// HeaderURL is the header dictionary URL for a table. Headers are shared
// across cycles.
func HeaderURL(base string, table string) (string, error) {
	bf, ok := bulkFiles[table]
	if !ok {
		return "", eris.Errorf("fetcher: unknown bulk table %q", table)
	}
	return url.JoinPath(base, "data_dictionaries", bf.archive+"_header_file.csv")
}

// Result describes one table download.
type Result struct {
	Cycle   int    `json:"cycle"`
	Table   string `json:"table"`
	Changed bool   `json:"changed"`
	Bytes   int64  `json:"bytes"`
	Missing bool   `json:"missing,omitempty"`
}

// Bulk mirrors FEC bulk archives into a local raw directory using the
// rawsource layout. Unchanged archives are skipped by ETag.
type Bulk struct {
	fetcher Fetcher
	baseURL string
	root    string
	log     *zap.Logger
}

// NewBulk creates a Bulk writing under root.
func NewBulk(f Fetcher, baseURL, root string) *Bulk {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Bulk{
		fetcher: f,
		baseURL: strings.TrimRight(baseURL, "/"),
		root:    root,
		log:     zap.L().With(zap.String("component", "fetcher.bulk")),
	}
}

// FetchCycle downloads each table for cycle in order. A table absent
// upstream is reported as Missing and skipped; any other failure, an
// exhausted rate-limit budget included, stops the cycle.
func (b *Bulk) FetchCycle(ctx context.Context, cycle int, tables []string) ([]Result, error) {
	out := make([]Result, 0, len(tables))
	for _, table := range tables {
		res, err := b.fetchTable(ctx, cycle, table)
		if errors.Is(err, model.ErrNotFound) {
			b.log.Warn("bulk file not published", zap.Int("cycle", cycle), zap.String("table", table))
			out = append(out, Result{Cycle: cycle, Table: table, Missing: true})
			continue
		}
		if err != nil {
			return out, eris.Wrapf(err, "fetcher: cycle %d table %s", cycle, table)
		}
		b.log.Info("bulk file fetched",
			zap.Int("cycle", cycle),
			zap.String("table", table),
			zap.Bool("changed", res.Changed),
			zap.Int64("bytes", res.Bytes),
		)
		out = append(out, res)
	}
	return out, nil
}

func (b *Bulk) fetchTable(ctx context.Context, cycle int, table string) (Result, error) {
	res := Result{Cycle: cycle, Table: table}
	archiveURL, err := ArchiveURL(b.baseURL, cycle, table)
	if err != nil {
		return res, err
	}
	headerURL, err := HeaderURL(b.baseURL, table)
	if err != nil {
		return res, err
	}

	dataPath := filepath.Join(b.root, filepath.FromSlash(rawsource.DataKey(cycle, table)))
	headerPath := filepath.Join(b.root, filepath.FromSlash(rawsource.HeaderKey(cycle, table)))
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return res, eris.Wrap(err, "fetcher: create cycle dir")
	}

	if err := b.syncHeader(ctx, headerURL, headerPath); err != nil {
		return res, err
	}

	etagPath := dataPath + ".etag"
	etag := localETag(dataPath)

	body, newTag, changed, err := b.fetcher.DownloadIfChanged(ctx, archiveURL, etag)
	if err != nil {
		return res, err
	}
	if !changed {
		return res, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(dataPath), table+"-*.zip")
	if err != nil {
		_ = body.Close()
		return res, eris.Wrap(err, "fetcher: create temp archive")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	_ = tmp.Close()

	_, err = writeFile(tmp.Name(), body)
	_ = body.Close()
	if err != nil {
		return res, err
	}

	n, err := ExtractMember(tmp.Name(), bulkFiles[table].member, dataPath)
	if err != nil {
		return res, err
	}
	if newTag != "" {
		if err := os.WriteFile(etagPath, []byte(newTag), 0o644); err != nil {
			return res, eris.Wrap(err, "fetcher: write etag")
		}
	}
	res.Changed = true
	res.Bytes = n
	return res, nil
}

// syncHeader downloads a header dictionary unless the local copy carries
// the ETag the server reports for it. An untagged response always
// downloads.
func (b *Bulk) syncHeader(ctx context.Context, rawURL, path string) error {
	remote, err := b.fetcher.HeadETag(ctx, rawURL)
	if err != nil {
		return err
	}
	if remote != "" && remote == localETag(path) {
		return nil
	}
	if _, err := b.fetcher.DownloadToFile(ctx, rawURL, path); err != nil {
		return err
	}
	if remote != "" {
		if err := os.WriteFile(path+".etag", []byte(remote), 0o644); err != nil {
			return eris.Wrap(err, "fetcher: write header etag")
		}
	}
	return nil
}

// localETag returns the ETag recorded next to path, or "" when either
// file is missing.
func localETag(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	data, err := os.ReadFile(path + ".etag")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
