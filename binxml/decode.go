// Package binxml decodes Android's compiled (binary) XML format, as used by
// AndroidManifest.xml inside an APK, into an element tree.
package binxml

import (
	"bytes"
	"fmt"
	"strings"
)

// ErrPlainTextManifest is returned when the document is textual XML.
var ErrPlainTextManifest = fmt.Errorf("xml is in plaintext, binary form expected: %w", ErrMalformedXml)

type decoder struct {
	doc   *Document
	stack []*Element
	// namespaces declared since the last start element
	pending []Namespace
}

// Decode parses a complete binary XML document.
//
// Structure is checked strictly (chunk types, sizes, string indices), while
// nesting is not: start tags left open at the end of the stream are closed
// implicitly and unmatched end tags are dropped.
func Decode(b []byte) (*Document, error) {
	if len(b) > 0 && b[0] == '<' {
		if bytes.HasPrefix(b, []byte("<?xml")) || bytes.HasPrefix(b, []byte("<manifest")) {
			return nil, ErrPlainTextManifest
		}
	}

	top, err := readChunkHeader(b, 0)
	if err != nil {
		return nil, fmt.Errorf("document header: %w", err)
	}
	if top.Type != chunkXmlFile && top.Type != chunkNull {
		return nil, fmt.Errorf("document chunk type 0x%04x: %w", top.Type, ErrMalformedXml)
	}

	d := &decoder{doc: &Document{Pool: &StringPool{}}}
	end := int(top.Size)
	for off := int(top.HeaderSize); off < end; {
		h, err := readChunkHeader(b[:end], off)
		if err != nil {
			return nil, err
		}

		chunk := b[off : off+int(h.Size)]
		if err := d.chunk(chunk, h); err != nil {
			return nil, fmt.Errorf("chunk 0x%04x at 0x%x: %w", h.Type, off, err)
		}
		off += int(h.Size)
	}

	return d.doc, nil
}

func (d *decoder) chunk(chunk []byte, h chunkHeader) error {
	switch h.Type {
	case chunkStringPool:
		pool, err := parseStringPool(chunk, h)
		if err != nil {
			return err
		}
		d.doc.Pool = pool
		return nil
	case chunkResourceMap:
		return d.resourceMap(chunk, h)
	case chunkXmlNsStart, chunkXmlNsEnd, chunkXmlTagStart, chunkXmlTagEnd, chunkXmlText:
	default:
		return fmt.Errorf("unknown chunk type: %w", ErrMalformedXml)
	}

	if h.HeaderSize < nodeHeaderSize {
		return fmt.Errorf("node header size %d: %w", h.HeaderSize, ErrMalformedXml)
	}
	line := u32(chunk, chunkHeaderSize)
	ext := chunk[h.HeaderSize:]

	switch h.Type {
	case chunkXmlNsStart:
		return d.namespaceStart(ext)
	case chunkXmlNsEnd:
		return d.namespaceEnd(ext)
	case chunkXmlTagStart:
		return d.tagStart(ext, line)
	case chunkXmlTagEnd:
		return d.tagEnd(ext)
	default:
		return d.text(ext)
	}
}

func (d *decoder) resourceMap(chunk []byte, h chunkHeader) error {
	body := chunk[h.HeaderSize:]
	if len(body)%4 != 0 {
		return fmt.Errorf("resource map size %d is not a multiple of 4: %w", len(body), ErrMalformedXml)
	}

	ids := make([]uint32, len(body)/4)
	for i := range ids {
		ids[i] = u32(body, i*4)
	}
	d.doc.ResourceIDs = ids
	return nil
}

func (d *decoder) str(idx uint32) (string, error) {
	return d.doc.Pool.Get(idx)
}

func (d *decoder) namespaceStart(ext []byte) error {
	if len(ext) < 8 {
		return fmt.Errorf("namespace record of %d bytes: %w", len(ext), ErrMalformedXml)
	}

	prefix, err := d.str(u32(ext, 0))
	if err != nil {
		return err
	}
	uri, err := d.str(u32(ext, 4))
	if err != nil {
		return err
	}

	d.pending = append(d.pending, Namespace{Prefix: prefix, URI: uri})
	return nil
}

func (d *decoder) namespaceEnd(ext []byte) error {
	if len(ext) < 8 {
		return fmt.Errorf("namespace record of %d bytes: %w", len(ext), ErrMalformedXml)
	}
	if _, err := d.str(u32(ext, 0)); err != nil {
		return err
	}
	_, err := d.str(u32(ext, 4))
	return err
}

func (d *decoder) tagStart(ext []byte, line uint32) error {
	if len(ext) < attrHeaderLen {
		return fmt.Errorf("start element record of %d bytes: %w", len(ext), ErrMalformedXml)
	}

	ns, err := d.str(u32(ext, 0))
	if err != nil {
		return fmt.Errorf("element namespace: %w", err)
	}
	name, err := d.str(u32(ext, 4))
	if err != nil {
		return fmt.Errorf("element name: %w", err)
	}

	attrStart := int(u16(ext, 8))
	attrSize := int(u16(ext, 10))
	attrCount := int(u16(ext, 12))

	if attrCount > 0 {
		if attrSize < attrRecordLen {
			return fmt.Errorf("attribute record size %d: %w", attrSize, ErrMalformedXml)
		}
		if attrStart+attrCount*attrSize > len(ext) {
			return fmt.Errorf("%d attributes of %d bytes at 0x%x exceed the %d byte record: %w", attrCount, attrSize, attrStart, len(ext), ErrMalformedXml)
		}
	}

	e := &Element{Namespace: ns, Name: name, Namespaces: d.pending}
	d.pending = nil

	for i := 0; i < attrCount; i++ {
		a, err := d.attribute(ext[attrStart+i*attrSize:], name)
		if err != nil {
			return fmt.Errorf("attribute #%d of <%s> on line %d: %w", i, name, line, err)
		}
		e.Attrs = append(e.Attrs, a)
	}

	if n := len(d.stack); n > 0 {
		parent := d.stack[n-1]
		parent.Children = append(parent.Children, e)
	} else {
		d.doc.Elements = append(d.doc.Elements, e)
	}
	d.stack = append(d.stack, e)
	return nil
}

func (d *decoder) attribute(rec []byte, element string) (Attribute, error) {
	nameIdx := u32(rec, 4)
	rawIdx := u32(rec, 8)
	valueType := ValueType(rec[15])
	data := u32(rec, 16)

	ns, err := d.str(u32(rec, 0))
	if err != nil {
		return Attribute{}, fmt.Errorf("namespace: %w", err)
	}

	a := Attribute{Namespace: ns}
	if int64(nameIdx) < int64(len(d.doc.ResourceIDs)) {
		a.ResourceID = d.doc.ResourceIDs[nameIdx]
	}
	// Android reads attributes by resource id, except for the ones on
	// <manifest> it looks up by string.
	known, ok := AndroidAttrName(a.ResourceID)
	if !ok || element == "manifest" {
		pooled, err := d.str(nameIdx)
		switch {
		case err != nil && !ok:
			return Attribute{}, fmt.Errorf("name: %w", err)
		case err == nil && (!ok || isStringKeyed(pooled)):
			known = pooled
		}
	}
	a.Name = known

	if a.Raw, err = d.str(rawIdx); err != nil {
		return Attribute{}, fmt.Errorf("raw value: %w", err)
	}

	a.Value = Value{Type: valueType, Data: data}
	if valueType == TypeString {
		if a.Value.String, err = d.str(data); err != nil {
			return Attribute{}, fmt.Errorf("string value: %w", err)
		}
	}
	return a, nil
}

func (d *decoder) tagEnd(ext []byte) error {
	if len(ext) < 8 {
		return fmt.Errorf("end element record of %d bytes: %w", len(ext), ErrMalformedXml)
	}
	if _, err := d.str(u32(ext, 0)); err != nil {
		return fmt.Errorf("element namespace: %w", err)
	}
	name, err := d.str(u32(ext, 4))
	if err != nil {
		return fmt.Errorf("element name: %w", err)
	}

	for i := len(d.stack) - 1; i >= 0; i-- {
		if d.stack[i].Name == name {
			d.stack = d.stack[:i]
			return nil
		}
	}
	return nil
}

func (d *decoder) text(ext []byte) error {
	if len(ext) < 4+typedValueLen {
		return fmt.Errorf("cdata record of %d bytes: %w", len(ext), ErrMalformedXml)
	}
	s, err := d.str(u32(ext, 0))
	if err != nil {
		return fmt.Errorf("cdata: %w", err)
	}
	if n := len(d.stack); n > 0 {
		d.stack[n-1].Text += s
	}
	return nil
}

func isStringKeyed(name string) bool {
	return name == "package" || strings.HasPrefix(name, "platformBuildVersion")
}
