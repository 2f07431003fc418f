package apktest

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"
)

// AndroidNS is the android: namespace URI.
const AndroidNS = "http://schemas.android.com/apk/res/android"

// Attribute value types, see binxml.ValueType.
const (
	TypeReference        uint8 = 0x01
	TypeString           uint8 = 0x03
	TypeFloat            uint8 = 0x04
	TypeDynamicReference uint8 = 0x07
	TypeIntDec           uint8 = 0x10
	TypeIntHex           uint8 = 0x11
	TypeIntBool          uint8 = 0x12
)

// Attr describes one attribute written by XMLBuilder.
type Attr struct {
	NS         string
	Name       string
	ResourceID uint32
	Type       uint8
	Data       uint32
	String     string
}

// StringAttr ...
func StringAttr(name, value string) Attr {
	return Attr{NS: AndroidNS, Name: name, Type: TypeString, String: value}
}

// IntAttr ...
func IntAttr(name string, value uint32) Attr {
	return Attr{NS: AndroidNS, Name: name, Type: TypeIntDec, Data: value}
}

// RefAttr ...
func RefAttr(name string, id uint32) Attr {
	return Attr{NS: AndroidNS, Name: name, Type: TypeReference, Data: id}
}

// BoolAttr ...
func BoolAttr(name string, value bool) Attr {
	a := Attr{NS: AndroidNS, Name: name, Type: TypeIntBool}
	if value {
		a.Data = 0xffffffff
	}
	return a
}

// WithID attaches an android attribute resource id to a.
func (a Attr) WithID(id uint32) Attr {
	a.ResourceID = id
	return a
}

// Plain drops the namespace, as aapt does for manifest-level attributes
// such as package.
func (a Attr) Plain() Attr {
	a.NS = ""
	return a
}

type xmlEvent struct {
	kind  uint16
	ns    string
	name  string
	attrs []Attr
}

// XMLBuilder assembles a binary XML document. Strings are pooled when Bytes
// is called, with resource-mapped attribute names first, as aapt lays them out.
type XMLBuilder struct {
	UTF8   bool
	events []xmlEvent
}

// NewXML ...
func NewXML(utf8 bool) *XMLBuilder {
	return &XMLBuilder{UTF8: utf8}
}

// StartNamespace ...
func (b *XMLBuilder) StartNamespace(prefix, uri string) *XMLBuilder {
	b.events = append(b.events, xmlEvent{kind: 0x0100, ns: prefix, name: uri})
	return b
}

// EndNamespace ...
func (b *XMLBuilder) EndNamespace(prefix, uri string) *XMLBuilder {
	b.events = append(b.events, xmlEvent{kind: 0x0101, ns: prefix, name: uri})
	return b
}

// Start ...
func (b *XMLBuilder) Start(name string, attrs ...Attr) *XMLBuilder {
	b.events = append(b.events, xmlEvent{kind: 0x0102, name: name, attrs: attrs})
	return b
}

// End ...
func (b *XMLBuilder) End(name string) *XMLBuilder {
	b.events = append(b.events, xmlEvent{kind: 0x0103, name: name})
	return b
}

// Text ...
func (b *XMLBuilder) Text(s string) *XMLBuilder {
	b.events = append(b.events, xmlEvent{kind: 0x0104, name: s})
	return b
}

type stringTable struct {
	list  []string
	index map[string]uint32
}

func (t *stringTable) add(s string) uint32 {
	if i, ok := t.index[s]; ok {
		return i
	}
	i := uint32(len(t.list))
	t.index[s] = i
	t.list = append(t.list, s)
	return i
}

func (t *stringTable) ref(s string) uint32 {
	if s == "" {
		return 0xffffffff
	}
	return t.add(s)
}

// Bytes serializes the document.
func (b *XMLBuilder) Bytes() []byte {
	table := &stringTable{index: map[string]uint32{}}

	var resIDs []uint32
	for _, ev := range b.events {
		for _, a := range ev.attrs {
			if a.ResourceID == 0 {
				continue
			}
			if _, ok := table.index[a.Name]; !ok {
				table.add(a.Name)
				resIDs = append(resIDs, a.ResourceID)
			}
		}
	}

	var body bytes.Buffer
	for _, ev := range b.events {
		var ext bytes.Buffer
		switch ev.kind {
		case 0x0100, 0x0101:
			writeU32(&ext, table.ref(ev.ns), table.ref(ev.name))
		case 0x0102:
			writeU32(&ext, 0xffffffff, table.ref(ev.name))
			writeU16(&ext, 20, 20, uint16(len(ev.attrs)), 0, 0, 0)
			for _, a := range ev.attrs {
				raw, data := uint32(0xffffffff), a.Data
				if a.Type == TypeString {
					raw = table.add(a.String)
					data = raw
				}
				writeU32(&ext, table.ref(a.NS), table.add(a.Name), raw)
				writeU16(&ext, 8)
				ext.WriteByte(0)
				ext.WriteByte(a.Type)
				writeU32(&ext, data)
			}
		case 0x0103:
			writeU32(&ext, 0xffffffff, table.ref(ev.name))
		case 0x0104:
			writeU32(&ext, table.add(ev.name))
			writeU16(&ext, 8)
			ext.WriteByte(0)
			ext.WriteByte(0)
			writeU32(&ext, 0)
		}

		writeU16(&body, ev.kind, 16)
		writeU32(&body, uint32(16+ext.Len()), 1, 0xffffffff)
		body.Write(ext.Bytes())
	}

	var doc bytes.Buffer
	pool := stringPoolChunk(table.list, b.UTF8)
	resMap := resourceMapChunk(resIDs)
	writeU16(&doc, 0x0003, 8)
	writeU32(&doc, uint32(8+len(pool)+len(resMap)+body.Len()))
	doc.Write(pool)
	doc.Write(resMap)
	doc.Write(body.Bytes())
	return doc.Bytes()
}

func resourceMapChunk(ids []uint32) []byte {
	if len(ids) == 0 {
		return nil
	}
	var buf bytes.Buffer
	writeU16(&buf, 0x0180, 8)
	writeU32(&buf, uint32(8+4*len(ids)))
	writeU32(&buf, ids...)
	return buf.Bytes()
}

func stringPoolChunk(list []string, utf8 bool) []byte {
	var data bytes.Buffer
	offsets := make([]uint32, len(list))
	for i, s := range list {
		offsets[i] = uint32(data.Len())
		if utf8 {
			writeLen8(&data, len(utf16.Encode([]rune(s))))
			writeLen8(&data, len(s))
			data.WriteString(s)
			data.WriteByte(0)
		} else {
			units := utf16.Encode([]rune(s))
			if len(units) > 0x7fff {
				writeU16(&data, uint16(0x8000|len(units)>>16), uint16(len(units)))
			} else {
				writeU16(&data, uint16(len(units)))
			}
			writeU16(&data, units...)
			writeU16(&data, 0)
		}
	}
	for data.Len()%4 != 0 {
		data.WriteByte(0)
	}

	var flags uint32
	if utf8 {
		flags = 0x100
	}
	headerLen := 28
	stringsStart := uint32(headerLen + 4*len(list))

	var buf bytes.Buffer
	writeU16(&buf, 0x0001, uint16(headerLen))
	writeU32(&buf, stringsStart+uint32(data.Len()), uint32(len(list)), 0, flags, stringsStart, 0)
	writeU32(&buf, offsets...)
	buf.Write(data.Bytes())
	return buf.Bytes()
}

func writeLen8(buf *bytes.Buffer, n int) {
	if n > 0x7f {
		buf.WriteByte(byte(0x80 | n>>8))
	}
	buf.WriteByte(byte(n))
}

func writeU16(buf *bytes.Buffer, vs ...uint16) {
	for _, v := range vs {
		_ = binary.Write(buf, binary.LittleEndian, v)
	}
}

func writeU32(buf *bytes.Buffer, vs ...uint32) {
	for _, v := range vs {
		_ = binary.Write(buf, binary.LittleEndian, v)
	}
}

// Manifest returns a typical aapt2-style manifest with the given package,
// version code and uses-sdk bounds.
func Manifest(pkg string, versionCode, minSdk, targetSdk uint32) []byte {
	return NewXML(false).
		StartNamespace("android", AndroidNS).
		Start("manifest",
			IntAttr("versionCode", versionCode).WithID(0x0101021b),
			StringAttr("package", pkg).Plain(),
		).
		Start("uses-sdk",
			IntAttr("minSdkVersion", minSdk).WithID(0x0101020c),
			IntAttr("targetSdkVersion", targetSdk).WithID(0x01010270),
		).
		End("uses-sdk").
		End("manifest").
		EndNamespace("android", AndroidNS).
		Bytes()
}
