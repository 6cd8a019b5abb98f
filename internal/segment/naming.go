package segment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Namer builds unique, timestamped segment paths in one directory.
type Namer struct {
	Dir       string
	Layout    string
	Extension string
}

// Next returns a path for a segment starting at now. When a file with the
// timestamped name already exists a numeric suffix is appended so an existing
// segment is never overwritten.
func (n Namer) Next(now time.Time) (string, error) {
	base := now.Format(n.Layout)
	for i := 0; i < 1000; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s (%d)", base, i)
		}
		candidate := filepath.Join(n.Dir, name+n.Extension)
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("no free segment name for %q in %s", base, n.Dir)
}

// Title derives a display title from a segment path: the extension is dropped
// and underscores, used in place of colons in file names, become colons again.
func Title(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.ReplaceAll(stem, "_", ":")
}

// File describes a segment file found on disk.
type File struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Scan lists regular files in dir carrying the extension ext, oldest first
// (modification time ascending, then name). A missing directory yields an
// empty list.
func Scan(dir, ext string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read recordings dir: %w", err)
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, File{
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].ModTime.Before(files[j].ModTime)
		}
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// TotalSize sums the sizes of files.
func TotalSize(files []File) int64 {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total
}
