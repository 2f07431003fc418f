// Package apktest builds synthetic APK pieces for the unit tests of the
// parsing packages: ZIP containers, APK Signing Blocks and binary XML
// manifests, byte by byte, so every offset and length is under test control.
package apktest

import (
	"bytes"
	"hash/crc32"

	"github.com/klauspost/compress/flate"
)

// ZIP compression methods.
const (
	Store   uint16 = 0
	Deflate uint16 = 8
)

// ZipEntry describes one archive member. Data is compressed according to
// Method unless RawData is set; the zero values of the override fields mean
// "compute it".
type ZipEntry struct {
	Name   string
	Method uint16
	Data   []byte

	RawData          []byte
	UncompressedSize uint32
	CRC32            uint32
}

// Zip ...
type Zip struct {
	Entries      []ZipEntry
	SigningBlock []byte
	Comment      string
}

// Bytes lays the archive out as: local headers and data, the signing block
// (if any), the central directory, the end of central directory record.
func (z Zip) Bytes() []byte {
	var out bytes.Buffer
	var cd bytes.Buffer

	for _, e := range z.Entries {
		raw := e.RawData
		if raw == nil {
			raw = compress(e.Method, e.Data)
		}
		size := e.UncompressedSize
		if size == 0 {
			size = uint32(len(e.Data))
		}
		sum := e.CRC32
		if sum == 0 {
			sum = crc32.ChecksumIEEE(e.Data)
		}

		offset := uint32(out.Len())

		writeU32(&out, 0x04034b50)
		writeU16(&out, 20, 0, e.Method, 0, 0)
		writeU32(&out, sum, uint32(len(raw)), size)
		writeU16(&out, uint16(len(e.Name)), 0)
		out.WriteString(e.Name)
		out.Write(raw)

		writeU32(&cd, 0x02014b50)
		writeU16(&cd, 20, 20, 0, e.Method, 0, 0)
		writeU32(&cd, sum, uint32(len(raw)), size)
		writeU16(&cd, uint16(len(e.Name)), 0, 0, 0, 0)
		writeU32(&cd, 0, offset)
		cd.WriteString(e.Name)
	}

	out.Write(z.SigningBlock)

	cdOffset := uint32(out.Len())
	out.Write(cd.Bytes())

	writeU32(&out, 0x06054b50)
	writeU16(&out, 0, 0, uint16(len(z.Entries)), uint16(len(z.Entries)))
	writeU32(&out, uint32(cd.Len()), cdOffset)
	writeU16(&out, uint16(len(z.Comment)))
	out.WriteString(z.Comment)

	return out.Bytes()
}

func compress(method uint16, data []byte) []byte {
	if method != Deflate {
		return data
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		panic(err)
	}
	if _, err := w.Write(data); err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
