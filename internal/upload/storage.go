// Package upload stores user files on local disk.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	mathrand "math/rand"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gatehouse.org/internal/auth"
)

// FileInfo describes one stored file.
type FileInfo struct {
	Name       string    `json:"filename"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Storage writes uploads into dir under collision-resistant names.
type Storage struct {
	dir      string
	maxBytes int64
	now      func() time.Time

	rndMu sync.Mutex
	rnd   *mathrand.Rand
}

// NewStorage creates dir when missing. maxBytes <= 0 disables the size limit.
func NewStorage(dir string, maxBytes int64) (*Storage, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("upload: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload: create dir: %w", err)
	}
	return &Storage{
		dir:      dir,
		maxBytes: maxBytes,
		now:      time.Now,
		rnd:      mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (s *Storage) Dir() string { return s.dir }

// StoredName builds "<stem>-YYYYMMDD-HHmmss-<rand><ext>" from the client file name.
func StoredName(original string, at time.Time, n int64) string {
	base := path.Base(strings.ReplaceAll(original, `\`, "/"))
	if base == "." || base == "/" || base == ".." {
		base = "file"
	}
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem, ext = base, ""
	}
	return fmt.Sprintf("%s-%s-%d%s", stem, at.Format("20060102-150405"), n, ext)
}

// Save copies r into a new file named after original and returns its info.
func (s *Storage) Save(ctx context.Context, original string, r io.Reader) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}
	s.rndMu.Lock()
	n := s.rnd.Int63n(1_000_000_000)
	s.rndMu.Unlock()
	name := StoredName(original, s.now(), n)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return FileInfo{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	written, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return FileInfo{}, err
	}
	if s.maxBytes > 0 && written > s.maxBytes {
		return FileInfo{}, auth.Invalid("file", fmt.Sprintf("File exceeds %d bytes", s.maxBytes))
	}
	target := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return FileInfo{}, err
	}
	st, err := os.Stat(target)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Name: name, Size: st.Size(), ModifiedAt: st.ModTime().UTC()}, nil
}

// Open returns the stored file called name. Names containing path elements are rejected.
func (s *Storage) Open(name string) (*os.File, FileInfo, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.HasPrefix(name, ".upload-") {
		return nil, FileInfo{}, auth.Invalid("filename", "Invalid file name")
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, FileInfo{}, fmt.Errorf("%w: file %s", auth.ErrNotFound, name)
	}
	if err != nil {
		return nil, FileInfo{}, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, FileInfo{}, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, FileInfo{}, fmt.Errorf("%w: file %s", auth.ErrNotFound, name)
	}
	return f, FileInfo{Name: name, Size: st.Size(), ModifiedAt: st.ModTime().UTC()}, nil
}

// List returns every stored file, recursively, as slash-separated paths rooted at "/".
func (s *Storage) List(ctx context.Context) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		files = append(files, "/"+filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
