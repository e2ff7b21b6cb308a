// Package archive reads and writes the zip bundles used for all-tables
// export and import. Entries are flat; callers decide what a name means.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrCorrupt is returned when a file cannot be opened as a zip archive.
var ErrCorrupt = errors.New("压缩包无法读取")

// ErrEntryNotFound is returned by ReadEntry for a name not in the archive.
var ErrEntryNotFound = errors.New("压缩包中不存在该文件")

// ErrEntryTooLarge is returned when an entry exceeds the read limit.
var ErrEntryTooLarge = errors.New("压缩包中的文件过大")

// Writer builds a zip archive entry by entry.
type Writer struct {
	zw  *zip.Writer
	now func() time.Time
}

// NewWriter returns a Writer that emits to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{zw: zip.NewWriter(w), now: time.Now}
}

// Create starts a new deflated entry. The returned writer is valid until the
// next Create or Close.
func (w *Writer) Create(name string) (io.Writer, error) {
	return w.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: w.now(),
	})
}

// Close writes the central directory. It does not close the underlying writer.
func (w *Writer) Close() error {
	return w.zw.Close()
}

// Reader gives access to the entries of an archive on disk.
type Reader struct {
	rc    *zip.ReadCloser
	files map[string]*zip.File
	names []string
}

// Open opens the archive at path. Unreadable or malformed archives yield an
// error wrapping ErrCorrupt.
func Open(path string) (*Reader, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	r := &Reader{rc: rc, files: make(map[string]*zip.File, len(rc.File))}
	for _, f := range rc.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if _, dup := r.files[f.Name]; dup {
			continue
		}
		r.files[f.Name] = f
		r.names = append(r.names, f.Name)
	}
	return r, nil
}

// Names lists file entries in archive order. Directory entries are omitted.
func (r *Reader) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// ReadEntry returns the bytes of a single entry. A limit > 0 bounds the
// decompressed size.
func (r *Reader) ReadEntry(name string, limit int64) ([]byte, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}

	src, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	defer src.Close()

	var reader io.Reader = src
	if limit > 0 {
		reader = io.LimitReader(src, limit+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, name)
	}
	return data, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.rc.Close()
}
