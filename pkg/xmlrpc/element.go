package xmlrpc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// xmlHeader prefixes every document the builder writes.
const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// Element is a minimal XML element tree. Text holds the character data of
// leaf elements; it is ignored when Children is non-empty.
type Element struct {
	Name     string
	Text     string
	CDATA    bool
	Children []*Element
}

// NewElement returns an element with the given children.
func NewElement(name string, children ...*Element) *Element {
	return &Element{Name: name, Children: children}
}

// TextElement returns a leaf element holding text.
func TextElement(name, text string) *Element {
	return &Element{Name: name, Text: text}
}

// Child returns the first direct child named name.
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every direct child named name.
func (e *Element) ChildrenNamed(name string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// First returns the first child element, or nil.
func (e *Element) First() *Element {
	if len(e.Children) == 0 {
		return nil
	}
	return e.Children[0]
}

// ParseDocument parses data into an element tree rooted at the document
// element.
func ParseDocument(data []byte) (*Element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	// The server declares UTF-8; anything else is passed through as-is.
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	var stack []*Element
	var root *Element
	var text []strings.Builder

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, encErr("parse", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name.Local}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			} else if root != nil {
				return nil, encErr("parse", fmt.Errorf("%w: multiple root elements", ErrMalformed))
			} else {
				root = el
			}
			stack = append(stack, el)
			text = append(text, strings.Builder{})

		case xml.EndElement:
			el := stack[len(stack)-1]
			if len(el.Children) == 0 {
				el.Text = text[len(text)-1].String()
			}
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]

		case xml.CharData:
			if len(text) > 0 {
				text[len(text)-1].Write(t)
			}
		}
	}

	if root == nil {
		return nil, encErr("parse", fmt.Errorf("%w: empty document", ErrMalformed))
	}
	return root, nil
}

// MarshalDocument writes e as a complete XML document.
func (e *Element) MarshalDocument() []byte {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	e.writeTo(&buf)
	return buf.Bytes()
}

// Marshal writes e without a document header.
func (e *Element) Marshal() []byte {
	var buf bytes.Buffer
	e.writeTo(&buf)
	return buf.Bytes()
}

func (e *Element) writeTo(buf *bytes.Buffer) {
	if len(e.Children) == 0 && e.Text == "" {
		buf.WriteByte('<')
		buf.WriteString(e.Name)
		buf.WriteString("/>")
		return
	}

	buf.WriteByte('<')
	buf.WriteString(e.Name)
	buf.WriteByte('>')
	if len(e.Children) > 0 {
		for _, c := range e.Children {
			c.writeTo(buf)
		}
	} else if e.CDATA {
		writeCDATA(buf, e.Text)
	} else {
		_ = xml.EscapeText(buf, []byte(e.Text))
	}
	buf.WriteString("</")
	buf.WriteString(e.Name)
	buf.WriteByte('>')
}

// writeCDATA emits s in CDATA sections, splitting any "]]>" across two
// sections.
func writeCDATA(buf *bytes.Buffer, s string) {
	buf.WriteString("<![CDATA[")
	buf.WriteString(strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>"))
	buf.WriteString("]]>")
}
