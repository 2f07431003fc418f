package binxml

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedXml is returned for any structural problem in a binary XML document.
var ErrMalformedXml = errors.New("malformed binary xml")

// frameworks/base/libs/androidfw/include/androidfw/ResourceTypes.h
const (
	chunkNull        = 0x0000
	chunkStringPool  = 0x0001
	chunkXmlFile     = 0x0003
	chunkResourceMap = 0x0180

	chunkXmlNsStart  = 0x0100
	chunkXmlNsEnd    = 0x0101
	chunkXmlTagStart = 0x0102
	chunkXmlTagEnd   = 0x0103
	chunkXmlText     = 0x0104

	chunkHeaderSize     = 2 + 2 + 4
	nodeHeaderSize      = chunkHeaderSize + 4 + 4
	stringPoolHeaderLen = chunkHeaderSize + 5*4
	attrHeaderLen       = 4 * 5
	attrRecordLen       = 4*3 + 8
	typedValueLen       = 8

	noIndex = 0xffffffff
)

// ValueType is the data type byte of a typed attribute value.
type ValueType uint8

// Value types used by manifests.
const (
	TypeNull      ValueType = 0x00
	TypeReference ValueType = 0x01
	TypeAttribute ValueType = 0x02
	TypeString    ValueType = 0x03
	TypeFloat     ValueType = 0x04
	TypeDimension ValueType = 0x05
	TypeFraction  ValueType = 0x06
	TypeIntDec    ValueType = 0x10
	TypeIntHex    ValueType = 0x11
	TypeIntBool   ValueType = 0x12

	// aapt2 emits dynamic references for resources of shared libraries.
	TypeDynamicReference ValueType = 0x07
	TypeDynamicAttribute ValueType = 0x08

	TypeIntColorArgb8 ValueType = 0x1c
	TypeIntColorRgb8  ValueType = 0x1d
	TypeIntColorArgb4 ValueType = 0x1e
	TypeIntColorRgb4  ValueType = 0x1f
)

type chunkHeader struct {
	Type       uint16
	HeaderSize uint16
	Size       uint32
}

// readChunkHeader reads the chunk header at off and checks that the chunk
// fits inside b.
func readChunkHeader(b []byte, off int) (chunkHeader, error) {
	if off < 0 || len(b)-off < chunkHeaderSize {
		return chunkHeader{}, fmt.Errorf("chunk header at 0x%x: need %d bytes, %d left: %w", off, chunkHeaderSize, len(b)-off, ErrMalformedXml)
	}

	h := chunkHeader{
		Type:       binary.LittleEndian.Uint16(b[off:]),
		HeaderSize: binary.LittleEndian.Uint16(b[off+2:]),
		Size:       binary.LittleEndian.Uint32(b[off+4:]),
	}

	if h.HeaderSize < chunkHeaderSize || uint32(h.HeaderSize) > h.Size {
		return chunkHeader{}, fmt.Errorf("chunk 0x%04x at 0x%x: header size %d, chunk size %d: %w", h.Type, off, h.HeaderSize, h.Size, ErrMalformedXml)
	}
	if uint64(h.Size) > uint64(len(b)-off) {
		return chunkHeader{}, fmt.Errorf("chunk 0x%04x at 0x%x: size %d exceeds the %d remaining bytes: %w", h.Type, off, h.Size, len(b)-off, ErrMalformedXml)
	}

	return h, nil
}

func u16(b []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(b[off:])
}

func u32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}
