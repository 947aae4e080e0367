// Package archive reads and writes Unix ar archives.
package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// Magic starts every archive.
	Magic = "!<arch>\n"

	// HeaderEnd terminates every member header.
	HeaderEnd = "`\n"

	// DefaultMemberName, DefaultModTime and DefaultMode describe the single
	// object member written by WriteSingle. The timestamp is fixed so output
	// is reproducible.
	DefaultMemberName = "rasm.o"
	DefaultModTime    = 1468364067
	DefaultMode       = 0o100666

	headerSize = 60

	nameOffset    = 0
	nameSize      = 16
	modTimeOffset = nameOffset + nameSize
	modTimeSize   = 12
	uidOffset     = modTimeOffset + modTimeSize
	uidSize       = 6
	gidOffset     = uidOffset + uidSize
	gidSize       = 6
	modeOffset    = gidOffset + gidSize
	modeSize      = 8
	sizeOffset    = modeOffset + modeSize
	sizeSize      = 10
	endOffset     = sizeOffset + sizeSize
)

// static assert for headerSize
var _ [0]struct{} = [(endOffset + len(HeaderEnd)) - headerSize]struct{}{}

var (
	ErrMemberTooLarge = errors.New("member too large for archive header")
	ErrNameTooLong    = errors.New("member name too long")
	ErrInvalidName    = errors.New("invalid member name")
	ErrFieldOverflow  = errors.New("header field overflow")
	ErrBadMagic       = errors.New("not an ar archive")
	ErrBadHeader      = errors.New("malformed member header")
	ErrShortWrite     = errors.New("short member write")
)

// Entry is the metadata of one archive member.
type Entry struct {
	Name    string
	ModTime int64
	UID     int
	GID     int
	Mode    uint32
	Size    int64
}

// ObjectEntry returns the header used for a single assembled object.
func ObjectEntry(size int64) Entry {
	return Entry{
		Name:    DefaultMemberName,
		ModTime: DefaultModTime,
		Mode:    DefaultMode,
		Size:    size,
	}
}

// header fills fixed-width, left-justified, space-padded fields.
type header struct {
	buf [headerSize]byte
}

func (h *header) field(offset, size int, value string) bool {
	if len(value) > size {
		return false
	}
	n := copy(h.buf[offset:offset+size], value)
	for i := offset + n; i < offset+size; i++ {
		h.buf[i] = ' '
	}
	return true
}

func (e Entry) encode(h *header) error {
	if e.Name == "" || strings.ContainsAny(e.Name, "/\n") {
		return fmt.Errorf("%w: %q", ErrInvalidName, e.Name)
	}
	if e.Size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrMemberTooLarge, e.Size)
	}
	if !h.field(nameOffset, nameSize, e.Name+"/") {
		return fmt.Errorf("%w: %q", ErrNameTooLong, e.Name)
	}
	if !h.field(sizeOffset, sizeSize, strconv.FormatInt(e.Size, 10)) {
		return fmt.Errorf("%w: %d bytes", ErrMemberTooLarge, e.Size)
	}

	for _, f := range []struct {
		name   string
		offset int
		size   int
		value  string
	}{
		{"modification time", modTimeOffset, modTimeSize, strconv.FormatInt(e.ModTime, 10)},
		{"owner", uidOffset, uidSize, strconv.Itoa(e.UID)},
		{"group", gidOffset, gidSize, strconv.Itoa(e.GID)},
		{"mode", modeOffset, modeSize, strconv.FormatUint(uint64(e.Mode), 8)},
	} {
		if !h.field(f.offset, f.size, f.value) {
			return fmt.Errorf("%w: %s %q", ErrFieldOverflow, f.name, f.value)
		}
	}
	copy(h.buf[endOffset:], HeaderEnd)
	return nil
}

// ArchiveWriter appends members to an archive stream.
type ArchiveWriter struct {
	w           io.Writer
	hdr         header
	copyBuffer  []byte
	limitReader io.LimitedReader
}

// NewArchiveWriter writes the archive magic and returns a writer for members.
func NewArchiveWriter(w io.Writer) (*ArchiveWriter, error) {
	if _, err := io.WriteString(w, Magic); err != nil {
		return nil, fmt.Errorf("failed to write archive magic: %w", err)
	}
	return &ArchiveWriter{
		w:          w,
		copyBuffer: make([]byte, 32*1024),
	}, nil
}

// WriteEntry writes a member header followed by exactly entry.Size bytes
// from r. Odd-sized members are padded with a newline.
func (w *ArchiveWriter) WriteEntry(entry Entry, r io.Reader) error {
	if err := entry.encode(&w.hdr); err != nil {
		return err
	}
	if _, err := w.w.Write(w.hdr.buf[:]); err != nil {
		return fmt.Errorf("failed to write member header: %w", err)
	}

	if entry.Size > 0 {
		if r == nil {
			return fmt.Errorf("%w: no contents for %d-byte member %q", ErrShortWrite, entry.Size, entry.Name)
		}
		w.limitReader.R = r
		w.limitReader.N = entry.Size
		n, err := io.CopyBuffer(w.w, &w.limitReader, w.copyBuffer)
		if err != nil {
			return fmt.Errorf("failed to write member contents: %w", err)
		}
		if n != entry.Size {
			return fmt.Errorf("%w: %q wrote %d of %d bytes", ErrShortWrite, entry.Name, n, entry.Size)
		}
	}

	if entry.Size%2 == 1 {
		if _, err := io.WriteString(w.w, "\n"); err != nil {
			return fmt.Errorf("failed to write member padding: %w", err)
		}
	}
	return nil
}

// WriteSingle writes an archive holding payload as its only member.
func WriteSingle(w io.Writer, payload []byte) error {
	aw, err := NewArchiveWriter(w)
	if err != nil {
		return err
	}
	return aw.WriteEntry(ObjectEntry(int64(len(payload))), bytes.NewReader(payload))
}

// Single returns the bytes of an archive holding payload as its only member.
func Single(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(Magic) + headerSize + len(payload) + 1)
	if err := WriteSingle(&buf, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ArchiveReader iterates over the members of an archive.
type ArchiveReader struct {
	r       *bufio.Reader
	hdr     [headerSize]byte
	pending int64
	pad     bool
}

// NewArchiveReader checks the archive magic.
func NewArchiveReader(r io.Reader) (*ArchiveReader, error) {
	br := bufio.NewReader(r)
	var magic [len(Magic)]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if string(magic[:]) != Magic {
		return nil, ErrBadMagic
	}
	return &ArchiveReader{r: br}, nil
}

func trimField(b []byte) string {
	return strings.TrimRight(string(b), " ")
}

func parseHeader(hdr []byte) (Entry, error) {
	if string(hdr[endOffset:]) != HeaderEnd {
		return Entry{}, fmt.Errorf("%w: bad terminator %q", ErrBadHeader, hdr[endOffset:])
	}

	var (
		entry Entry
		err   error
	)
	entry.Name = strings.TrimSuffix(trimField(hdr[nameOffset:nameOffset+nameSize]), "/")

	parse := func(name string, field []byte, base int) int64 {
		if err != nil {
			return 0
		}
		s := trimField(field)
		if s == "" {
			return 0
		}
		v, perr := strconv.ParseInt(s, base, 64)
		if perr != nil {
			err = fmt.Errorf("%w: %s %q", ErrBadHeader, name, s)
		}
		return v
	}

	entry.ModTime = parse("modification time", hdr[modTimeOffset:modTimeOffset+modTimeSize], 10)
	entry.UID = int(parse("owner", hdr[uidOffset:uidOffset+uidSize], 10))
	entry.GID = int(parse("group", hdr[gidOffset:gidOffset+gidSize], 10))
	entry.Mode = uint32(parse("mode", hdr[modeOffset:modeOffset+modeSize], 8))
	entry.Size = parse("size", hdr[sizeOffset:sizeOffset+sizeSize], 10)
	if err != nil {
		return Entry{}, err
	}
	if entry.Size < 0 {
		return Entry{}, fmt.Errorf("%w: negative size", ErrBadHeader)
	}
	return entry, nil
}

func (ar *ArchiveReader) skip() error {
	n := ar.pending
	if ar.pad {
		n++
	}
	ar.pending = 0
	ar.pad = false
	if n == 0 {
		return nil
	}
	if _, err := ar.r.Discard(int(n)); err != nil {
		return fmt.Errorf("%w: truncated member: %v", ErrBadHeader, err)
	}
	return nil
}

// Next advances to the next member. The returned reader yields the member
// contents until the following call to Next. Next returns io.EOF after the
// last member.
func (ar *ArchiveReader) Next() (Entry, io.Reader, error) {
	if err := ar.skip(); err != nil {
		return Entry{}, nil, err
	}

	n, err := io.ReadFull(ar.r, ar.hdr[:])
	if err == io.EOF {
		return Entry{}, nil, io.EOF
	}
	if err != nil {
		return Entry{}, nil, fmt.Errorf("%w: short header (%d bytes)", ErrBadHeader, n)
	}

	entry, err := parseHeader(ar.hdr[:])
	if err != nil {
		return Entry{}, nil, err
	}

	ar.pending = entry.Size
	ar.pad = entry.Size%2 == 1
	return entry, &memberReader{ar: ar}, nil
}

type memberReader struct {
	ar *ArchiveReader
}

func (m *memberReader) Read(p []byte) (int, error) {
	if m.ar.pending <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > m.ar.pending {
		p = p[:m.ar.pending]
	}
	n, err := m.ar.r.Read(p)
	m.ar.pending -= int64(n)
	if err == io.EOF && m.ar.pending > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// Member is a fully read archive member.
type Member struct {
	Entry
	Data []byte
}

// Read parses every member of an in-memory archive.
func Read(data []byte) ([]Member, error) {
	ar, err := NewArchiveReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var members []Member
	for {
		entry, r, err := ar.Next()
		if err == io.EOF {
			return members, nil
		}
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read member %q: %w", entry.Name, err)
		}
		if int64(len(body)) != entry.Size {
			return nil, fmt.Errorf("%w: member %q has %d of %d bytes", ErrBadHeader, entry.Name, len(body), entry.Size)
		}
		members = append(members, Member{Entry: entry, Data: body})
	}
}
