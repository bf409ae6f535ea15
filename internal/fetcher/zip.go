package fetcher

import (
	"archive/zip"
	"path"

	"github.com/rotisserie/eris"
)

// ExtractMember copies one file out of a ZIP archive to destPath. member
// matches an entry's full name first, then its base name, so archives
// that nest the data file under a directory still resolve. Returns bytes
// written.
func ExtractMember(zipPath, member, destPath string) (int64, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	f := findMember(r.File, member)
	if f == nil {
		return 0, eris.Errorf("zip: file %q not found in archive", member)
	}

	rc, err := f.Open()
	if err != nil {
		return 0, eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	n, err := writeFile(destPath, rc)
	if err != nil {
		return n, eris.Wrapf(err, "zip: extract %s", f.Name)
	}
	return n, nil
}

func findMember(files []*zip.File, member string) *zip.File {
	var byBase *zip.File
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		if f.Name == member {
			return f
		}
		if byBase == nil && path.Base(f.Name) == member {
			byBase = f
		}
	}
	return byBase
}
