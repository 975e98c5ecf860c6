// Package storage locates, describes and cleans up recording files in the
// recordings directory. It holds no state beyond the directory path.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrOutsideDir is returned when a path does not belong to the recordings directory.
var ErrOutsideDir = errors.New("path is outside the recordings directory")

// recordingExts are the container extensions DeleteAll and List consider.
var recordingExts = map[string]bool{".mp4": true, ".mov": true, ".m4a": true}

// FileInfo describes a recording on disk.
type FileInfo struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Type    string    `json:"type"`
	ModTime time.Time `json:"mod_time"`
}

// Dir is the recordings directory.
type Dir struct {
	root string
	now  func() time.Time
}

// New returns a Dir rooted at root, creating it if needed.
func New(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	return &Dir{root: abs, now: time.Now}, nil
}

// Root returns the absolute directory path.
func (d *Dir) Root() string { return d.root }

// NewOutputPath allocates a fresh file path with the given extension
// ("mp4", ".mov", ...). The file itself is not created.
func (d *Dir) NewOutputPath(ext string) (string, error) {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return "", fmt.Errorf("empty file extension")
	}
	name := fmt.Sprintf("recording-%s-%s.%s",
		d.now().Format("20060102-150405"),
		uuid.NewString()[:8],
		ext)
	return filepath.Join(d.root, name), nil
}

// Stat returns metadata for a recording file.
func (d *Dir) Stat(path string) (FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return fileInfo(path, st), nil
}

// Size returns the size of the file at path in bytes.
func (d *Dir) Size(path string) (int64, error) {
	info, err := d.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// Delete removes the file at path. Deleting a file that does not exist is not an error.
func (d *Dir) Delete(path string) error {
	if !d.contains(path) {
		return fmt.Errorf("delete %s: %w", path, ErrOutsideDir)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// DeleteAll removes every recording file in the directory and reports how
// many were removed.
func (d *Dir) DeleteAll() (int, error) {
	files, err := d.List()
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, f := range files {
		if err := os.Remove(f.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// List returns recording files, newest first.
func (d *Dir) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() || !recordingExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo(filepath.Join(d.root, e.Name()), st))
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].Name > files[j].Name
		}
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

func (d *Dir) contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(d.root, abs)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func fileInfo(path string, st fs.FileInfo) FileInfo {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	typ := "video/" + ext
	if ext == "m4a" {
		typ = "audio/mp4"
	}
	return FileInfo{
		Path:    path,
		Name:    filepath.Base(path),
		Size:    st.Size(),
		Type:    typ,
		ModTime: st.ModTime(),
	}
}
