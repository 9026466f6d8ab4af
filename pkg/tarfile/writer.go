// Package tarfile builds deterministic POSIX ustar archives byte-for-byte:
// fixed header offsets, stable zero padding, and a two-block trailer, so
// that the layer tarballs this tool produces hash identically across
// platforms (spec §4.5).
package tarfile

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

const blockSize = 512

// Header field offsets and sizes, per the ustar layout spec §4.5.
const (
	offName     = 0
	szName      = 100
	offMode     = 100
	szMode      = 8
	offUID      = 108
	szUID       = 8
	offGID      = 116
	szGID       = 8
	offSize     = 124
	szSize      = 12
	offMtime    = 136
	szMtime     = 12
	offChksum   = 148
	szChksum    = 8
	offTypeflag = 156
	offLinkname = 157
	szLinkname  = 100
	offMagic    = 257
	szMagic     = 6
	offVersion  = 263
	szVersion   = 2
	offUname    = 265
	szUname     = 32
	offGname    = 297
	szGname     = 32
	offDevmajor = 329
	szDevmajor  = 8
	offDevminor = 337
	szDevminor  = 8
	offPrefix   = 345
	szPrefix    = 155

	typeRegular   = '0'
	typeDirectory = '5'

	defaultMode = 0o555
)

// InvalidNameError reports an attempt to add a member with an empty name.
type InvalidNameError struct{ Name string }

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("tarfile: invalid member name %q", e.Name)
}

// Builder appends members left to right into an append-only ustar stream.
type Builder struct {
	buf    bytes.Buffer
	closed bool
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{}
}

// AddFile appends a regular-file member with the given contents.
func (b *Builder) AddFile(name string, contents []byte) error {
	if name == "" {
		return &InvalidNameError{Name: name}
	}
	hdr, err := newHeader(name, typeRegular, int64(len(contents)))
	if err != nil {
		return err
	}
	b.buf.Write(hdr)
	b.buf.Write(contents)
	b.buf.Write(padding(len(contents)))
	return nil
}

// AddFileReader appends a regular-file member whose contents are streamed
// from r; size must equal the number of bytes r yields.
func (b *Builder) AddFileReader(name string, size int64, r io.Reader) error {
	if name == "" {
		return &InvalidNameError{Name: name}
	}
	hdr, err := newHeader(name, typeRegular, size)
	if err != nil {
		return err
	}
	b.buf.Write(hdr)
	n, err := io.Copy(&b.buf, io.LimitReader(r, size))
	if err != nil {
		return fmt.Errorf("tarfile: writing %q: %w", name, err)
	}
	if n != size {
		return fmt.Errorf("tarfile: %q: expected %d bytes, wrote %d", name, size, n)
	}
	b.buf.Write(padding(int(size)))
	return nil
}

// AddDirectory appends a directory member. Directory members carry no data.
func (b *Builder) AddDirectory(name string) error {
	if name == "" {
		return &InvalidNameError{Name: name}
	}
	if !strings.HasSuffix(name, "/") {
		name += "/"
	}
	hdr, err := newHeader(name, typeDirectory, 0)
	if err != nil {
		return err
	}
	b.buf.Write(hdr)
	return nil
}

// AddTree walks root in pre-order, adding a directory entry for every
// directory and a file entry for every regular file under destPrefix.
// Symlinks and other special files are rejected.
func (b *Builder) AddTree(root, destPrefix string) error {
	type entry struct {
		fsPath, archivePath string
		isDir                bool
	}
	var entries []entry
	err := filepathWalk(root, func(fsPath string, d fs.DirEntry) error {
		rel := strings.TrimPrefix(fsPath, root)
		rel = strings.TrimPrefix(rel, string(os.PathSeparator))
		archivePath := path.Join(destPrefix, filepathToSlash(rel))
		if d.Type()&fs.ModeSymlink != 0 || (!d.IsDir() && !d.Type().IsRegular()) {
			return fmt.Errorf("tarfile: %q is not a regular file or directory", fsPath)
		}
		entries = append(entries, entry{fsPath: fsPath, archivePath: archivePath, isDir: d.IsDir()})
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].archivePath < entries[j].archivePath })
	for _, e := range entries {
		if e.isDir {
			if e.archivePath == "" || e.archivePath == "." {
				continue
			}
			if err := b.AddDirectory(e.archivePath); err != nil {
				return err
			}
			continue
		}
		data, err := os.ReadFile(e.fsPath)
		if err != nil {
			return fmt.Errorf("tarfile: reading %q: %w", e.fsPath, err)
		}
		if err := b.AddFile(e.archivePath, data); err != nil {
			return err
		}
	}
	return nil
}

// Bytes returns the archive built so far, followed by the two-block
// trailer. Calling Bytes multiple times is safe; it does not mutate state.
func (b *Builder) Bytes() []byte {
	out := make([]byte, 0, b.buf.Len()+2*blockSize)
	out = append(out, b.buf.Bytes()...)
	out = append(out, make([]byte, 2*blockSize)...)
	return out
}

func newHeader(name string, typeflag byte, size int64) ([]byte, error) {
	if len(name) > szName+szPrefix {
		return nil, fmt.Errorf("tarfile: name %q too long", name)
	}
	h := make([]byte, blockSize)

	nameField, prefixField := splitName(name)
	putString(h, offName, szName, nameField)
	putOctal(h, offMode, szMode, defaultMode, true)
	putOctal(h, offUID, szUID, 0, true)
	putOctal(h, offGID, szGID, 0, true)
	putOctalSize(h, offSize, szSize, size)
	putOctalSize(h, offMtime, szMtime, 0)
	h[offTypeflag] = typeflag
	putString(h, offLinkname, szLinkname, "")
	copy(h[offMagic:offMagic+szMagic], "ustar\x00")
	copy(h[offVersion:offVersion+szVersion], "00")
	putString(h, offUname, szUname, "")
	putString(h, offGname, szGname, "")
	putOctal(h, offDevmajor, szDevmajor, 0, true)
	putOctal(h, offDevminor, szDevminor, 0, true)
	putString(h, offPrefix, szPrefix, prefixField)

	// Checksum is computed with the chksum field treated as eight spaces.
	for i := 0; i < szChksum; i++ {
		h[offChksum+i] = ' '
	}
	var sum int
	for _, c := range h {
		sum += int(c)
	}
	chk := fmt.Sprintf("%06o", sum)
	copy(h[offChksum:offChksum+6], chk)
	h[offChksum+6] = 0
	h[offChksum+7] = ' '

	return h, nil
}

// splitName divides name across the 100-byte name field and 155-byte
// prefix field, putting the last path component in name and everything
// before it in prefix when name alone would not fit.
func splitName(name string) (nameField, prefixField string) {
	if len(name) <= szName {
		return name, ""
	}
	idx := strings.LastIndexByte(name, '/')
	if idx < 0 || len(name[idx+1:]) > szName || len(name[:idx]) > szPrefix {
		// Caller already checked total length; this triggers when the last
		// component is longer than 100 bytes or the part before it is
		// longer than 155 bytes, and keeps only the last 100 bytes.
		return name[len(name)-szName:], ""
	}
	return name[idx+1:], name[:idx]
}

func putString(h []byte, offset, size int, s string) {
	n := copy(h[offset:offset+size], s)
	_ = n
}

// putOctal writes a zero-padded octal number terminated space+null, the
// form the mode/uid/gid/devmajor/devminor fields use per the header table.
func putOctal(h []byte, offset, size int, value int64, terminated bool) {
	digits := size - 2
	s := fmt.Sprintf("%0*o", digits, value)
	copy(h[offset:offset+digits], s)
	if terminated {
		h[offset+digits] = ' '
		h[offset+digits+1] = 0
	}
}

// putOctalSize writes the 11-digit octal + trailing space form used by
// the size and mtime fields.
func putOctalSize(h []byte, offset, size int, value int64) {
	digits := size - 1
	s := fmt.Sprintf("%0*o", digits, value)
	copy(h[offset:offset+digits], s)
	h[offset+digits] = ' '
}

// padding returns the zero-fill needed to bring size up to the next
// 512-byte boundary, never a full block (that would read as end-of-archive).
func padding(size int) []byte {
	rem := size % blockSize
	if rem == 0 {
		return nil
	}
	return make([]byte, blockSize-rem)
}
