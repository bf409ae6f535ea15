package rawsource

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// FS reads raw files under a root directory.
type FS struct {
	Root string
}

var _ Source = FS{}

// Open implements Source.
func (f FS) Open(_ context.Context, cycle int, table string) (io.ReadCloser, error) {
	return f.open(DataKey(cycle, table))
}

// OpenHeader implements Source.
func (f FS) OpenHeader(_ context.Context, cycle int, table string) (io.ReadCloser, error) {
	return f.open(HeaderKey(cycle, table))
}

func (f FS) open(key string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(f.Root, filepath.FromSlash(key)))
	if err != nil {
		return nil, eris.Wrapf(err, "rawsource: open %s", key)
	}
	return file, nil
}
