package zipindex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/bitrise-steplib/steps-apk-info/apktest"
	"github.com/bitrise-steplib/steps-apk-info/source"
	"github.com/stretchr/testify/require"
)

func openZip(t *testing.T, z apktest.Zip) *Index {
	idx, err := Open(source.FromBytes(z.Bytes()))
	require.NoError(t, err)
	return idx
}

func TestOpen(t *testing.T) {
	manifest := bytes.Repeat([]byte("<manifest/>"), 100)

	t.Log("indexes entries in central directory order")
	{
		idx := openZip(t, apktest.Zip{Entries: []apktest.ZipEntry{
			{Name: "res/layout/main.xml", Method: apktest.Deflate, Data: []byte("layout")},
			{Name: "AndroidManifest.xml", Method: apktest.Deflate, Data: manifest},
			{Name: "classes.dex", Method: apktest.Store, Data: []byte("dex\n035\x00")},
		}})

		require.Equal(t, []string{"res/layout/main.xml", "AndroidManifest.xml", "classes.dex"}, idx.Names())

		e, ok := idx.Lookup("AndroidManifest.xml")
		require.True(t, ok)
		require.Equal(t, Deflate, e.Method)
		require.Equal(t, uint32(len(manifest)), e.UncompressedSize)
		require.True(t, e.CompressedSize < e.UncompressedSize)

		_, ok = idx.Lookup("missing")
		require.False(t, ok)
	}

	t.Log("archive comment")
	{
		idx := openZip(t, apktest.Zip{
			Entries: []apktest.ZipEntry{{Name: "a", Data: []byte("a")}},
			Comment: "signed by walle PK\x05\x06",
		})
		require.Equal(t, []byte("signed by walle PK\x05\x06"), idx.Comment)
	}

	t.Log("central directory offset skips the signing block")
	{
		z := apktest.Zip{
			Entries:      []apktest.ZipEntry{{Name: "a", Data: []byte("abc")}},
			SigningBlock: apktest.SigningBlock(),
		}
		idx := openZip(t, z)
		// local header (30) + name (1) + data (3) + empty signing block (32)
		require.Equal(t, int64(30+1+3+32), idx.CentralDirectoryOffset)
		// central directory header (46) + name (1)
		require.Equal(t, int64(46+1), idx.CentralDirectorySize)
		require.Equal(t, idx.CentralDirectoryOffset+idx.CentralDirectorySize, idx.EndOfCentralDirOffset)
	}

	t.Log("65535 entries without zip64")
	{
		entries := make([]apktest.ZipEntry, 0xffff)
		for i := range entries {
			entries[i] = apktest.ZipEntry{Name: fmt.Sprintf("res/raw/%d", i)}
		}
		entries[0xfffe].Data = []byte("last")

		idx := openZip(t, apktest.Zip{Entries: entries})
		require.Equal(t, 0xffff, len(idx.Names()))

		content, err := idx.ReadEntry("res/raw/65534")
		require.NoError(t, err)
		require.Equal(t, []byte("last"), content)
	}

	t.Log("duplicate names keep the first entry")
	{
		idx := openZip(t, apktest.Zip{Entries: []apktest.ZipEntry{
			{Name: "AndroidManifest.xml", Data: []byte("first")},
			{Name: "AndroidManifest.xml", Data: []byte("second")},
		}})
		require.Equal(t, []string{"AndroidManifest.xml"}, idx.Names())

		content, err := idx.ReadEntry("AndroidManifest.xml")
		require.NoError(t, err)
		require.Equal(t, []byte("first"), content)
	}

	t.Log("empty archive")
	{
		idx := openZip(t, apktest.Zip{})
		require.Equal(t, 0, len(idx.Names()))
	}
}

func TestOpenMalformed(t *testing.T) {
	t.Log("too short for an end record")
	{
		_, err := Open(source.FromBytes(make([]byte, 10)))
		require.True(t, errors.Is(err, source.ErrTruncated), err)
	}

	t.Log("no end record signature")
	{
		_, err := Open(source.FromBytes(make([]byte, 1024)))
		require.True(t, errors.Is(err, ErrMalformedZip), err)
	}

	t.Log("bad central directory header signature")
	{
		b := apktest.Zip{Entries: []apktest.ZipEntry{{Name: "a", Data: []byte("a")}}}.Bytes()
		cdOffset := binary.LittleEndian.Uint32(b[len(b)-6:])
		b[cdOffset] = 'X'

		_, err := Open(source.FromBytes(b))
		require.True(t, errors.Is(err, ErrMalformedZip), err)
	}

	t.Log("central directory runs into the end record")
	{
		b := apktest.Zip{Entries: []apktest.ZipEntry{{Name: "a", Data: []byte("a")}}}.Bytes()
		size := binary.LittleEndian.Uint32(b[len(b)-10:])
		binary.LittleEndian.PutUint32(b[len(b)-10:], size+100)

		_, err := Open(source.FromBytes(b))
		require.True(t, errors.Is(err, ErrMalformedZip), err)
	}

	t.Log("zip64 marker")
	{
		b := apktest.Zip{Entries: []apktest.ZipEntry{{Name: "a", Data: []byte("a")}}}.Bytes()
		binary.LittleEndian.PutUint32(b[len(b)-6:], 0xffffffff)

		_, err := Open(source.FromBytes(b))
		require.True(t, errors.Is(err, ErrMalformedZip), err)
	}

	t.Log("zip64 locator before the end record")
	{
		b := apktest.Zip{Entries: []apktest.ZipEntry{{Name: "a", Data: []byte("a")}}}.Bytes()
		locator := make([]byte, 20)
		binary.LittleEndian.PutUint32(locator, 0x07064b50)

		eocd := len(b) - 22
		withLocator := append(append(append([]byte{}, b[:eocd]...), locator...), b[eocd:]...)

		_, err := Open(source.FromBytes(withLocator))
		require.True(t, errors.Is(err, ErrMalformedZip), err)
	}
}

func TestReadEntry(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 512)

	t.Log("stored and deflated entries")
	{
		idx := openZip(t, apktest.Zip{Entries: []apktest.ZipEntry{
			{Name: "stored", Method: apktest.Store, Data: payload},
			{Name: "deflated", Method: apktest.Deflate, Data: payload},
			{Name: "empty", Method: apktest.Store},
		}})

		for _, name := range []string{"stored", "deflated"} {
			content, err := idx.ReadEntry(name)
			require.NoError(t, err, name)
			require.Equal(t, payload, content, name)

			e, _ := idx.Lookup(name)
			require.Equal(t, int(e.UncompressedSize), len(content), name)
		}

		content, err := idx.ReadEntry("empty")
		require.NoError(t, err)
		require.Equal(t, 0, len(content))
	}

	t.Log("missing entry")
	{
		idx := openZip(t, apktest.Zip{Entries: []apktest.ZipEntry{{Name: "a", Data: []byte("a")}}})

		_, err := idx.ReadEntry("AndroidManifest.xml")
		require.True(t, errors.Is(err, ErrEntryNotFound), err)
	}

	t.Log("corrupt deflate stream")
	{
		idx := openZip(t, apktest.Zip{Entries: []apktest.ZipEntry{
			{Name: "a", Method: apktest.Deflate, Data: payload, RawData: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		}})

		_, err := idx.ReadEntry("a")
		require.True(t, errors.Is(err, ErrDecompression), err)
	}

	t.Log("inflated size differs from the declared size")
	{
		idx := openZip(t, apktest.Zip{Entries: []apktest.ZipEntry{
			{Name: "short", Method: apktest.Deflate, Data: payload, UncompressedSize: uint32(len(payload) + 1)},
			{Name: "long", Method: apktest.Deflate, Data: payload, UncompressedSize: 16},
		}})

		_, err := idx.ReadEntry("short")
		require.True(t, errors.Is(err, ErrDecompression), err)

		_, err = idx.ReadEntry("long")
		require.True(t, errors.Is(err, ErrDecompression), err)
	}

	t.Log("stored entry with differing sizes")
	{
		idx := openZip(t, apktest.Zip{Entries: []apktest.ZipEntry{
			{Name: "a", Method: apktest.Store, Data: payload, UncompressedSize: 1},
		}})

		_, err := idx.ReadEntry("a")
		require.True(t, errors.Is(err, ErrMalformedZip), err)
	}

	t.Log("unsupported method")
	{
		idx := openZip(t, apktest.Zip{Entries: []apktest.ZipEntry{
			{Name: "a", Method: 12, Data: payload},
		}})

		_, err := idx.ReadEntry("a")
		require.True(t, errors.Is(err, ErrDecompression), err)
	}

	t.Log("crc mismatch")
	{
		idx := openZip(t, apktest.Zip{Entries: []apktest.ZipEntry{
			{Name: "a", Method: apktest.Deflate, Data: payload, CRC32: 0x12345678},
		}})

		_, err := idx.ReadEntry("a")
		require.True(t, errors.Is(err, ErrDecompression), err)
	}

	t.Log("bad local header signature")
	{
		b := apktest.Zip{Entries: []apktest.ZipEntry{{Name: "a", Data: []byte("a")}}}.Bytes()
		b[0] = 'X'

		idx, err := Open(source.FromBytes(b))
		require.NoError(t, err)

		_, err = idx.ReadEntry("a")
		require.True(t, errors.Is(err, ErrMalformedZip), err)
	}
}
