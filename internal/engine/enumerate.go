package engine

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Enumerate lists every regular file under root in lexical walk order.
// Entries that cannot be read are logged and skipped. Directories listed in
// exclude (and everything below them) are not descended into. A non-directory
// root yields itself when it is a regular file.
func Enumerate(ctx context.Context, root string, exclude []string, logger *logrus.Logger) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			logger.WithError(err).WithField("path", path).Warn("Skipping unreadable entry")
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && isExcluded(path, exclude) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if isExcluded(path, exclude) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return files, err
	}
	return files, nil
}

// isExcluded reports whether path is one of dirs or lies below one of them.
func isExcluded(path string, dirs []string) bool {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if Within(path, dir) {
			return true
		}
	}
	return false
}

// Within reports whether path equals dir or is nested inside it.
func Within(path, dir string) bool {
	path = filepath.Clean(path)
	dir = filepath.Clean(dir)
	if path == dir {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
