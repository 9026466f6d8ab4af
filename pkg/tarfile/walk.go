package tarfile

import (
	"io/fs"
	"path/filepath"
)

// filepathWalk visits every entry under root, root itself excluded,
// calling fn with the OS path and its DirEntry.
func filepathWalk(root string, fn func(fsPath string, d fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		return fn(p, d)
	})
}

func filepathToSlash(p string) string {
	return filepath.ToSlash(p)
}
