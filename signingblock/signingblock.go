// Package signingblock locates and decodes the APK Signing Block, the
// ID-value container that apksigner places between the last ZIP entry and
// the central directory.
//
// FORMAT:
//
//	uint64:  size (excluding this field)
//	repeated ID-value pairs:
//	    uint64:           size (excluding this field)
//	    uint32:           ID
//	    (size - 4) bytes: value
//	uint64:  size (same as the one above)
//	uint128: magic "APK Sig Block 42"
package signingblock

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bitrise-steplib/steps-apk-info/source"
)

var (
	// ErrNoSigningBlock means the magic is absent: the APK is unsigned or
	// carries only a JAR (v1) signature. This is a legal state.
	ErrNoSigningBlock = errors.New("no APK Signing Block before ZIP Central Directory")
	// ErrCorruptSigningBlock ...
	ErrCorruptSigningBlock = errors.New("corrupt APK Signing Block")
)

const (
	magic = "APK Sig Block 42"

	// size field + magic
	footerLen = 8 + 16
	// leading size field + footer
	minBlockLen = 8 + footerLen

	idSchemeV2 = 0x7109871a
	idSchemeV3 = 0xf05368c0
)

// IDs that show up in the wild but carry no V2/V3 signer data.
var otherIDs = map[uint32]string{
	0x42726577: "verity padding",
	0x1b93ad61: "v3.1 scheme",
	0x6dff800d: "source stamp v2",
	0x2b09189e: "source stamp",
	0x504b4453: "dependency info",
	0x2146444e: "play frosting",
	0x71777777: "channel info",
}

// Scheme tells which signature scheme an entry belongs to.
type Scheme int

// Schemes.
const (
	SchemeUnrecognized Scheme = iota
	SchemeV2
	SchemeV3
)

func (s Scheme) String() string {
	switch s {
	case SchemeV2:
		return "v2"
	case SchemeV3:
		return "v3"
	default:
		return "unrecognized"
	}
}

// Entry is one ID-value pair of the block. Signers is set for V2 and V3
// entries; Value keeps the raw bytes of unrecognized ones.
type Entry struct {
	ID      uint32
	Scheme  Scheme
	Signers []Signer
	Value   []byte
}

// Name describes the entry id.
func (e Entry) Name() string {
	if e.Scheme != SchemeUnrecognized {
		return e.Scheme.String() + " scheme"
	}
	if name, ok := otherIDs[e.ID]; ok {
		return name
	}
	return fmt.Sprintf("unknown 0x%08x", e.ID)
}

// Block is a decoded APK Signing Block.
type Block struct {
	// Offset of the block within the APK.
	Offset  int64
	Entries []Entry
}

// Records flattens the signer records of every recognized entry, in block
// order. Each record owns its bytes.
func (b *Block) Records() []SignerRecord {
	var records []SignerRecord
	for _, e := range b.Entries {
		for _, s := range e.Signers {
			records = append(records, s.Records()...)
		}
	}
	return records
}

// Read finds and decodes the signing block that ends at cdOffset, the start
// of the ZIP central directory.
func Read(r *source.Reader, cdOffset int64) (*Block, error) {
	raw, offset, err := Find(r, cdOffset)
	if err != nil {
		return nil, err
	}

	block, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	block.Offset = offset
	return block, nil
}

// Find returns the raw bytes of the signing block ending at cdOffset and the
// offset they start at.
func Find(r *source.Reader, cdOffset int64) ([]byte, int64, error) {
	if cdOffset < minBlockLen {
		return nil, 0, fmt.Errorf("central directory offset %d leaves no room for a signing block: %w", cdOffset, ErrNoSigningBlock)
	}

	footer, err := r.ReadAt(cdOffset-footerLen, footerLen)
	if err != nil {
		return nil, 0, err
	}
	if string(footer[8:]) != magic {
		return nil, 0, ErrNoSigningBlock
	}

	size := binary.LittleEndian.Uint64(footer)
	if size < footerLen || size > uint64(cdOffset-8) {
		return nil, 0, fmt.Errorf("block size %d out of range for central directory offset %d: %w", size, cdOffset, ErrCorruptSigningBlock)
	}

	offset := cdOffset - int64(size) - 8
	block, err := r.ReadAt(offset, int64(size)+8)
	if err != nil {
		return nil, 0, err
	}

	if head := binary.LittleEndian.Uint64(block); head != size {
		return nil, 0, fmt.Errorf("sizes in header and footer are mismatched: %d != %d: %w", head, size, ErrCorruptSigningBlock)
	}
	return block, offset, nil
}

// Parse decodes a complete signing block, size fields and magic included.
// Unknown entry ids are kept as unrecognized entries.
func Parse(block []byte) (*Block, error) {
	if len(block) < minBlockLen {
		return nil, fmt.Errorf("%d bytes is too short for a signing block: %w", len(block), ErrCorruptSigningBlock)
	}
	if string(block[len(block)-16:]) != magic {
		return nil, ErrNoSigningBlock
	}

	want := uint64(len(block) - 8)
	head := binary.LittleEndian.Uint64(block)
	foot := binary.LittleEndian.Uint64(block[len(block)-footerLen:])
	if head != foot {
		return nil, fmt.Errorf("sizes in header and footer are mismatched: %d != %d: %w", head, foot, ErrCorruptSigningBlock)
	}
	if head != want {
		return nil, fmt.Errorf("block declares %d bytes, has %d: %w", head, want, ErrCorruptSigningBlock)
	}

	body := block[8 : len(block)-footerLen]
	result := &Block{}

	for pos, count := 0, 1; pos < len(body); count++ {
		if len(body)-pos < 8 {
			return nil, fmt.Errorf("entry #%d: %d bytes left, need a size field: %w", count, len(body)-pos, ErrCorruptSigningBlock)
		}
		length := binary.LittleEndian.Uint64(body[pos:])
		pos += 8

		if length < 4 || length > uint64(len(body)-pos) {
			return nil, fmt.Errorf("entry #%d: size out of range: length=%d, remaining=%d: %w", count, length, len(body)-pos, ErrCorruptSigningBlock)
		}

		id := binary.LittleEndian.Uint32(body[pos:])
		value := body[pos+4 : pos+int(length)]
		pos += int(length)

		entry, err := parseEntry(id, value)
		if err != nil {
			return nil, fmt.Errorf("entry #%d (id 0x%08x): %w", count, id, err)
		}
		result.Entries = append(result.Entries, entry)
	}

	return result, nil
}

func parseEntry(id uint32, value []byte) (Entry, error) {
	var scheme Scheme
	switch id {
	case idSchemeV2:
		scheme = SchemeV2
	case idSchemeV3:
		scheme = SchemeV3
	default:
		return Entry{ID: id, Scheme: SchemeUnrecognized, Value: clone(value)}, nil
	}

	signers, err := parseSigners(scheme, value)
	if err != nil {
		return Entry{}, err
	}
	return Entry{ID: id, Scheme: scheme, Signers: signers}, nil
}
