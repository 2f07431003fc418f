// Package zipindex indexes the central directory of a ZIP container and
// reads single entries out of it on demand.
//
// Entries are located through the central directory only: local headers may
// carry zero sizes when a data descriptor follows the entry data.
package zipindex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/ioutil"

	"github.com/bitrise-steplib/steps-apk-info/source"
	"github.com/klauspost/compress/flate"
)

// Error kinds reported by Open and ReadEntry.
var (
	ErrMalformedZip  = errors.New("malformed zip")
	ErrEntryNotFound = errors.New("entry not found")
	ErrDecompression = errors.New("decompression error")
)

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	zip64LocatorSignature    = 0x07064b50

	fileHeaderLen      = 30
	directoryHeaderLen = 46
	directoryEndLen    = 22
	zip64LocatorLen    = 20

	maxCommentLen = 0xffff
)

// Compression methods understood by ReadEntry.
const (
	Store   uint16 = 0
	Deflate uint16 = 8
)

// Entry is one central directory record.
type Entry struct {
	Name              string
	Method            uint16
	Flags             uint16
	CRC32             uint32
	CompressedSize    uint32
	UncompressedSize  uint32
	LocalHeaderOffset uint32
}

// Index maps entry names to their central directory records.
type Index struct {
	r       *source.Reader
	entries map[string]*Entry
	order   []string

	// CentralDirectoryOffset is where the central directory starts. The APK
	// Signing Block, when present, ends right before it.
	CentralDirectoryOffset int64
	CentralDirectorySize   int64
	EndOfCentralDirOffset  int64
	Comment                []byte
}

// endRecord mirrors the fixed part of the end of central directory record.
type endRecord struct {
	Signature     uint32
	DiskNumber    uint16
	DiskCD        uint16
	DiskCDCount   uint16
	TotalCDCount  uint16
	CDSize        uint32
	CDOffset      uint32
	CommentLength uint16
}

// Open locates the end of central directory record and indexes every
// central directory header it announces.
func Open(r *source.Reader) (*Index, error) {
	eocd, eocdOffset, err := findEndRecord(r)
	if err != nil {
		return nil, err
	}

	var end endRecord
	if err := binary.Read(bytes.NewReader(eocd), binary.LittleEndian, &end); err != nil {
		return nil, fmt.Errorf("read end of central directory: %s: %w", err, ErrMalformedZip)
	}

	if end.CDOffset == 0xffffffff || end.CDSize == 0xffffffff || hasZip64Locator(r, eocdOffset) {
		return nil, fmt.Errorf("zip64 archives are not supported: %w", ErrMalformedZip)
	}
	if end.DiskNumber != 0 || end.DiskCD != 0 || end.DiskCDCount != end.TotalCDCount {
		return nil, fmt.Errorf("multi-disk archives are not supported: %w", ErrMalformedZip)
	}

	cdOffset, cdSize := int64(end.CDOffset), int64(end.CDSize)
	if cdOffset+cdSize > eocdOffset {
		return nil, fmt.Errorf("central directory [%d, %d) overlaps end record at %d: %w", cdOffset, cdOffset+cdSize, eocdOffset, ErrMalformedZip)
	}

	cd, err := r.ReadAt(cdOffset, cdSize)
	if err != nil {
		return nil, fmt.Errorf("read central directory: %s: %w", err, ErrMalformedZip)
	}

	idx := &Index{
		r:                      r,
		entries:                make(map[string]*Entry, end.TotalCDCount),
		CentralDirectoryOffset: cdOffset,
		CentralDirectorySize:   cdSize,
		EndOfCentralDirOffset:  eocdOffset,
		Comment:                eocd[directoryEndLen:],
	}

	pos := 0
	for i := 0; i < int(end.TotalCDCount); i++ {
		e, n, err := parseDirectoryHeader(cd[pos:])
		if err != nil {
			return nil, fmt.Errorf("central directory entry #%d at offset %d: %w", i, cdOffset+int64(pos), err)
		}
		pos += n

		if _, ok := idx.entries[e.Name]; ok {
			continue
		}
		idx.entries[e.Name] = e
		idx.order = append(idx.order, e.Name)
	}

	if pos != len(cd) {
		return nil, fmt.Errorf("central directory has %d trailing bytes after %d entries: %w", len(cd)-pos, end.TotalCDCount, ErrMalformedZip)
	}

	return idx, nil
}

// hasZip64Locator reports whether a zip64 end of central directory locator
// sits right before the end record. A count of 0xffff alone is a legal
// 65535 entry archive.
func hasZip64Locator(r *source.Reader, eocdOffset int64) bool {
	if eocdOffset < zip64LocatorLen {
		return false
	}
	b, err := r.ReadAt(eocdOffset-zip64LocatorLen, 4)
	if err != nil {
		return false
	}
	return binary.LittleEndian.Uint32(b) == zip64LocatorSignature
}

// findEndRecord scans backward from the end of the source for the end of
// central directory signature whose comment length matches its position.
func findEndRecord(r *source.Reader) ([]byte, int64, error) {
	if r.Size() < directoryEndLen {
		return nil, 0, fmt.Errorf("source of %d bytes cannot hold an end of central directory record: %w", r.Size(), source.ErrTruncated)
	}

	buf, bufOffset, err := r.Tail(directoryEndLen + maxCommentLen)
	if err != nil {
		return nil, 0, err
	}

	for pos := len(buf) - directoryEndLen; pos >= 0; pos-- {
		if binary.LittleEndian.Uint32(buf[pos:]) != directoryEndSignature {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(buf[pos+20:]))
		if pos+directoryEndLen+commentLen != len(buf) {
			continue
		}

		record := make([]byte, len(buf)-pos)
		copy(record, buf[pos:])
		return record, bufOffset + int64(pos), nil
	}

	return nil, 0, fmt.Errorf("end of central directory signature not found: %w", ErrMalformedZip)
}

func parseDirectoryHeader(b []byte) (*Entry, int, error) {
	if len(b) < directoryHeaderLen {
		return nil, 0, fmt.Errorf("header needs %d bytes, %d left: %w", directoryHeaderLen, len(b), ErrMalformedZip)
	}
	if sig := binary.LittleEndian.Uint32(b); sig != directoryHeaderSignature {
		return nil, 0, fmt.Errorf("bad signature 0x%08x: %w", sig, ErrMalformedZip)
	}

	nameLen := int(binary.LittleEndian.Uint16(b[28:]))
	extraLen := int(binary.LittleEndian.Uint16(b[30:]))
	commentLen := int(binary.LittleEndian.Uint16(b[32:]))

	total := directoryHeaderLen + nameLen + extraLen + commentLen
	if total > len(b) {
		return nil, 0, fmt.Errorf("variable fields need %d bytes, %d left: %w", total, len(b), ErrMalformedZip)
	}

	e := &Entry{
		Flags:             binary.LittleEndian.Uint16(b[8:]),
		Method:            binary.LittleEndian.Uint16(b[10:]),
		CRC32:             binary.LittleEndian.Uint32(b[16:]),
		CompressedSize:    binary.LittleEndian.Uint32(b[20:]),
		UncompressedSize:  binary.LittleEndian.Uint32(b[24:]),
		LocalHeaderOffset: binary.LittleEndian.Uint32(b[42:]),
		Name:              string(b[directoryHeaderLen : directoryHeaderLen+nameLen]),
	}
	return e, total, nil
}

// Lookup ...
func (idx *Index) Lookup(name string) (*Entry, bool) {
	e, ok := idx.entries[name]
	return e, ok
}

// Names returns the entry names in central directory order.
func (idx *Index) Names() []string {
	names := make([]string, len(idx.order))
	copy(names, idx.order)
	return names
}

// ReadEntry returns the uncompressed content of the named entry.
func (idx *Index) ReadEntry(name string) ([]byte, error) {
	e, ok := idx.entries[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrEntryNotFound)
	}

	data, err := idx.entryData(e)
	if err != nil {
		return nil, err
	}

	var content []byte
	switch e.Method {
	case Store:
		if e.CompressedSize != e.UncompressedSize {
			return nil, fmt.Errorf("%s: stored entry sizes differ (%d != %d): %w", name, e.CompressedSize, e.UncompressedSize, ErrMalformedZip)
		}
		content = data
	case Deflate:
		content, err = inflate(data, int64(e.UncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported compression method %d: %w", name, e.Method, ErrDecompression)
	}

	if sum := crc32.ChecksumIEEE(content); sum != e.CRC32 {
		return nil, fmt.Errorf("%s: crc32 mismatch (0x%08x != 0x%08x): %w", name, sum, e.CRC32, ErrDecompression)
	}

	return content, nil
}

// entryData returns the raw (possibly compressed) bytes of e.
func (idx *Index) entryData(e *Entry) ([]byte, error) {
	off := int64(e.LocalHeaderOffset)
	if off+fileHeaderLen > idx.CentralDirectoryOffset {
		return nil, fmt.Errorf("%s: local header offset %d past central directory: %w", e.Name, off, ErrMalformedZip)
	}

	header, err := idx.r.ReadAt(off, fileHeaderLen)
	if err != nil {
		return nil, fmt.Errorf("%s: read local header: %s: %w", e.Name, err, ErrMalformedZip)
	}
	if sig := binary.LittleEndian.Uint32(header); sig != fileHeaderSignature {
		return nil, fmt.Errorf("%s: bad local header signature 0x%08x: %w", e.Name, sig, ErrMalformedZip)
	}

	nameLen := int64(binary.LittleEndian.Uint16(header[26:]))
	extraLen := int64(binary.LittleEndian.Uint16(header[28:]))
	dataOffset := off + fileHeaderLen + nameLen + extraLen
	dataEnd := dataOffset + int64(e.CompressedSize)
	if dataEnd > idx.CentralDirectoryOffset {
		return nil, fmt.Errorf("%s: data [%d, %d) runs into central directory at %d: %w", e.Name, dataOffset, dataEnd, idx.CentralDirectoryOffset, ErrMalformedZip)
	}

	data, err := idx.r.ReadAt(dataOffset, int64(e.CompressedSize))
	if err != nil {
		return nil, fmt.Errorf("%s: read data: %s: %w", e.Name, err, ErrMalformedZip)
	}
	return data, nil
}

// inflate decompresses data and checks the result against the declared size.
// At most size+1 bytes are produced, so a lying header cannot make us inflate
// without bound.
func inflate(data []byte, size int64) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()

	out, err := ioutil.ReadAll(io.LimitReader(fr, size+1))
	if err != nil {
		return nil, fmt.Errorf("inflate: %s: %w", err, ErrDecompression)
	}
	if int64(len(out)) != size {
		return nil, fmt.Errorf("inflated %d bytes, header declares %d: %w", len(out), size, ErrDecompression)
	}
	return out, nil
}
