package binxml

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

const stringFlagUtf8 = 0x00000100

// StringPool is the document-wide string table; everything else in the
// document refers to it by index.
type StringPool struct {
	strings []string
	UTF8    bool
}

// Len ...
func (p *StringPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.strings)
}

// Get returns the string at idx. The index 0xFFFFFFFF stands for "no string".
func (p *StringPool) Get(idx uint32) (string, error) {
	if idx == noIndex {
		return "", nil
	}
	if int64(idx) >= int64(p.Len()) {
		return "", fmt.Errorf("string index %d out of range (pool has %d strings): %w", idx, p.Len(), ErrMalformedXml)
	}
	return p.strings[idx], nil
}

// parseStringPool decodes the string pool chunk occupying all of chunk.
func parseStringPool(chunk []byte, h chunkHeader) (*StringPool, error) {
	if int(h.HeaderSize) < stringPoolHeaderLen {
		return nil, fmt.Errorf("string pool header size %d: %w", h.HeaderSize, ErrMalformedXml)
	}

	stringCount := u32(chunk, 8)
	flags := u32(chunk, 16)
	stringsStart := u32(chunk, 20)

	// Only the UTF-8 bit changes the layout, other flag bits are ignored.
	isUtf8 := flags&stringFlagUtf8 != 0

	if stringCount == 0 {
		return &StringPool{UTF8: isUtf8}, nil
	}

	offsetsStart := int(h.HeaderSize)
	if uint64(stringCount)*4 > uint64(len(chunk)-offsetsStart) {
		return nil, fmt.Errorf("string pool announces %d strings, chunk has room for %d offsets: %w", stringCount, (len(chunk)-offsetsStart)/4, ErrMalformedXml)
	}
	if uint64(stringsStart) < uint64(offsetsStart)+uint64(stringCount)*4 || uint64(stringsStart) > uint64(len(chunk)) {
		return nil, fmt.Errorf("string data start 0x%x outside chunk: %w", stringsStart, ErrMalformedXml)
	}

	data := chunk[stringsStart:]
	pool := &StringPool{strings: make([]string, 0, stringCount), UTF8: isUtf8}
	seen := make(map[uint32]int, stringCount)

	for i := uint32(0); i < stringCount; i++ {
		off := u32(chunk, offsetsStart+int(i)*4)
		if prev, ok := seen[off]; ok {
			pool.strings = append(pool.strings, pool.strings[prev])
			continue
		}

		var (
			s   string
			err error
		)
		if isUtf8 {
			s, err = decodeString8(data, off)
		} else {
			s, err = decodeString16(data, off)
		}
		if err != nil {
			return nil, fmt.Errorf("string #%d: %w", i, err)
		}

		seen[off] = len(pool.strings)
		pool.strings = append(pool.strings, s)
	}

	return pool, nil
}

// decodeLength8 reads a one or two byte length as used by UTF-8 pools.
func decodeLength8(data []byte, pos int) (int, int, error) {
	if pos >= len(data) {
		return 0, 0, fmt.Errorf("length at 0x%x past string data: %w", pos, ErrMalformedXml)
	}
	n := int(data[pos])
	if n&0x80 == 0 {
		return n, pos + 1, nil
	}
	if pos+1 >= len(data) {
		return 0, 0, fmt.Errorf("long length at 0x%x past string data: %w", pos, ErrMalformedXml)
	}
	return (n&0x7f)<<8 | int(data[pos+1]), pos + 2, nil
}

func decodeString8(data []byte, off uint32) (string, error) {
	if uint64(off) >= uint64(len(data)) {
		return "", fmt.Errorf("offset 0x%x past string data: %w", off, ErrMalformedXml)
	}

	// UTF-16 length first, unused.
	_, pos, err := decodeLength8(data, int(off))
	if err != nil {
		return "", err
	}
	n, pos, err := decodeLength8(data, pos)
	if err != nil {
		return "", err
	}
	if n > len(data)-pos {
		return "", fmt.Errorf("utf8 string of %d bytes at 0x%x past string data: %w", n, off, ErrMalformedXml)
	}

	b := data[pos : pos+n]
	if !utf8.Valid(b) {
		return "", fmt.Errorf("invalid utf8 sequence at 0x%x: %w", off, ErrMalformedXml)
	}
	return string(b), nil
}

func decodeString16(data []byte, off uint32) (string, error) {
	pos := int64(off)
	if pos+2 > int64(len(data)) {
		return "", fmt.Errorf("offset 0x%x past string data: %w", off, ErrMalformedXml)
	}

	n := int64(u16(data, int(pos)))
	pos += 2
	if n&0x8000 != 0 {
		if pos+2 > int64(len(data)) {
			return "", fmt.Errorf("long length at 0x%x past string data: %w", off, ErrMalformedXml)
		}
		n = (n&0x7fff)<<16 | int64(u16(data, int(pos)))
		pos += 2
	}
	if n*2 > int64(len(data))-pos {
		return "", fmt.Errorf("utf16 string of %d units at 0x%x past string data: %w", n, off, ErrMalformedXml)
	}

	units := make([]uint16, n)
	for i := range units {
		units[i] = u16(data, int(pos)+i*2)
	}
	return string(utf16.Decode(units)), nil
}
