// Package rawsource opens the raw bulk files for a cycle from a local
// directory or an S3 mirror. Files are laid out as
// <cycle>/<table>.txt with the column header in <cycle>/<table>_header.csv.
package rawsource

import (
	"context"
	"io"
	"path"
	"strconv"
)

// Source opens raw files read-only. Missing files fail with an error
// satisfying errors.Is(err, fs.ErrNotExist).
type Source interface {
	Open(ctx context.Context, cycle int, table string) (io.ReadCloser, error)
	OpenHeader(ctx context.Context, cycle int, table string) (io.ReadCloser, error)
}

// DataKey is the relative path of a table's data file.
func DataKey(cycle int, table string) string {
	return path.Join(strconv.Itoa(cycle), table+".txt")
}

// HeaderKey is the relative path of a table's header file.
func HeaderKey(cycle int, table string) string {
	return path.Join(strconv.Itoa(cycle), table+"_header.csv")
}
