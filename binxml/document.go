package binxml

import (
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
)

// Value is a typed attribute value: a type byte and a 32-bit payload, plus
// the resolved string for string-typed values.
type Value struct {
	Type   ValueType
	Data   uint32
	String string
}

// Int returns the payload of integer-typed values.
func (v Value) Int() (uint32, bool) {
	switch v.Type {
	case TypeIntDec, TypeIntHex:
		return v.Data, true
	}
	return 0, false
}

// Str returns the string of string-typed values.
func (v Value) Str() (string, bool) {
	if v.Type == TypeString {
		return v.String, true
	}
	return "", false
}

// Bool ...
func (v Value) Bool() (bool, bool) {
	if v.Type == TypeIntBool {
		return v.Data != 0, true
	}
	return false, false
}

// Reference returns the resource id of reference-typed values, static or
// dynamic.
func (v Value) Reference() (uint32, bool) {
	switch v.Type {
	case TypeReference, TypeDynamicReference:
		return v.Data, true
	}
	return 0, false
}

// Text renders the value the way it would appear in a textual manifest.
// References are not resolved.
func (v Value) Text() string {
	switch v.Type {
	case TypeString:
		return v.String
	case TypeNull:
		return ""
	case TypeReference, TypeDynamicReference:
		return fmt.Sprintf("@%08x", v.Data)
	case TypeAttribute, TypeDynamicAttribute:
		return fmt.Sprintf("?%08x", v.Data)
	case TypeIntBool:
		return strconv.FormatBool(v.Data != 0)
	case TypeIntHex:
		return fmt.Sprintf("0x%x", v.Data)
	case TypeFloat:
		return strconv.FormatFloat(float64(math.Float32frombits(v.Data)), 'g', -1, 32)
	default:
		return strconv.FormatInt(int64(int32(v.Data)), 10)
	}
}

// Attribute ...
type Attribute struct {
	Namespace string
	Name      string
	// ResourceID is the android attribute id the name maps to, 0 if the
	// document's resource map has no entry for it.
	ResourceID uint32
	// Raw is the original string of the attribute, if the producer kept one.
	Raw   string
	Value Value
}

// Namespace is a prefix to URI binding.
type Namespace struct {
	Prefix string
	URI    string
}

// Element is one decoded tag with its attributes and children.
type Element struct {
	Namespace  string
	Name       string
	Attrs      []Attribute
	Namespaces []Namespace
	Children   []*Element
	Text       string
}

// Attr finds an attribute by local name, ignoring its namespace.
func (e *Element) Attr(name string) (Attribute, bool) {
	if e == nil {
		return Attribute{}, false
	}
	for _, a := range e.Attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Child returns the first direct child with the given name.
func (e *Element) Child(name string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Document is a decoded binary XML file.
type Document struct {
	Pool        *StringPool
	ResourceIDs []uint32
	// Elements holds the top level elements; a well-formed manifest has one.
	Elements []*Element
}

// Root ...
func (d *Document) Root() *Element {
	if d == nil || len(d.Elements) == 0 {
		return nil
	}
	return d.Elements[0]
}

// TokenEncoder receives the document as a stream of encoding/xml tokens.
// *xml.Encoder satisfies it.
type TokenEncoder interface {
	EncodeToken(t xml.Token) error
	Flush() error
}

// EncodeTo writes the element tree to enc.
func (d *Document) EncodeTo(enc TokenEncoder) error {
	for _, e := range d.Elements {
		if err := encodeElement(enc, e); err != nil {
			return err
		}
	}
	return enc.Flush()
}

func encodeElement(enc TokenEncoder, e *Element) error {
	start := xml.StartElement{Name: xml.Name{Space: e.Namespace, Local: e.Name}}
	for _, a := range e.Attrs {
		start.Attr = append(start.Attr, xml.Attr{
			Name:  xml.Name{Space: a.Namespace, Local: a.Name},
			Value: a.Value.Text(),
		})
	}

	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if e.Text != "" {
		if err := enc.EncodeToken(xml.CharData(e.Text)); err != nil {
			return err
		}
	}
	for _, c := range e.Children {
		if err := encodeElement(enc, c); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}
