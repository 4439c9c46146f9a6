package verify

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrEntryNotFound = errors.New("archive entry not found")
	ErrEntryTooLarge = errors.New("archive entry exceeds size limit")
)

// Archive is the narrow view the verifier needs over a package container.
type Archive interface {
	// Entries lists file entry names; directories are omitted.
	Entries() []string
	// ReadEntry returns the decompressed bytes of name, reading at most limit bytes.
	ReadEntry(name string, limit int64) ([]byte, error)
}

// Opener parses raw package bytes into an Archive.
type Opener func(b []byte) (Archive, error)

type zipArchive struct {
	names []string
	files map[string]*zip.File
}

// OpenZip is the default Opener. Archives that repeat an entry name are refused,
// otherwise two readers could disagree on which manifest.json was verified.
func OpenZip(b []byte) (Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, err
	}

	a := &zipArchive{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		if _, dup := a.files[f.Name]; dup {
			return nil, fmt.Errorf("duplicate entry %q", f.Name)
		}
		a.files[f.Name] = f
		a.names = append(a.names, f.Name)
	}
	return a, nil
}

func (a *zipArchive) Entries() []string {
	out := make([]string, len(a.names))
	copy(out, a.names)
	return out
}

func (a *zipArchive) ReadEntry(name string, limit int64) ([]byte, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, ErrEntryNotFound
	}

	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	// Read one byte past the limit so an oversized entry is detected rather than truncated.
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrEntryTooLarge
	}
	return data, nil
}

func hasEntry(a Archive, name string) bool {
	for _, n := range a.Entries() {
		if n == name {
			return true
		}
	}
	return false
}
