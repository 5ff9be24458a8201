// xmlnorm/normalize.go
package xmlnorm

import (
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
)

// NormalizeDocument parses an XML document string and normalizes its root
// element against the template. Convenience wrapper over Normalize for callers
// holding a raw Classic API response body.
func NormalizeDocument(doc string, tmpl Template) (interface{}, error) {
	parsed, err := xmlquery.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, err
	}
	return Normalize(firstElementChild(parsed), tmpl), nil
}

// Normalize converts an XML element tree into a native value mirroring the
// template's shape. It is a pure function: no I/O, and a nil node (a wholly
// absent branch) always yields the template's typed empty default rather than
// failing.
func Normalize(node *xmlquery.Node, tmpl Template) interface{} {
	if node == nil {
		return tmpl.emptyDefault()
	}

	switch t := tmpl.(type) {
	case Scalar:
		return normalizeScalar(node, t)
	case List:
		var out []interface{} = []interface{}{}
		for _, child := range elementChildren(node) {
			out = append(out, Normalize(child, t.Of))
		}
		return out
	case Map:
		children := elementChildren(node)
		out := make(map[string]interface{}, len(t))
		for key, sub := range t {
			out[key] = Normalize(findChild(children, key), sub)
		}
		return out
	default:
		return nil
	}
}

func normalizeScalar(node *xmlquery.Node, t Scalar) interface{} {
	text := strings.TrimSpace(node.InnerText())

	switch t.Kind {
	case KindInt:
		if v, err := strconv.Atoi(text); err == nil {
			return v
		}
		return t.DefaultInt
	case KindFloat:
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			return v
		}
		return t.DefaultFloat
	case KindBool:
		return text == "true"
	default:
		if text == "" {
			return t.DefaultString
		}
		return text
	}
}

// elementChildren returns node's element children with the redundant size
// count stripped. The Classic API emits a <size> child holding the sibling
// count for some resources on some server versions but not others; left in
// place it would corrupt list normalization, so exactly one childless integer
// <size> element is dropped before shape handling.
func elementChildren(node *xmlquery.Node) []*xmlquery.Node {
	var children []*xmlquery.Node
	sizeIdx := -1
	sizeCount := 0
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		if c.Data == "size" && isIntegerLeaf(c) {
			sizeCount++
			sizeIdx = len(children)
		}
		children = append(children, c)
	}

	if sizeCount == 1 {
		children = append(children[:sizeIdx], children[sizeIdx+1:]...)
	}
	return children
}

// isIntegerLeaf reports whether the element has no element children and text
// that parses as an integer.
func isIntegerLeaf(node *xmlquery.Node) bool {
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return false
		}
	}
	_, err := strconv.Atoi(strings.TrimSpace(node.InnerText()))
	return err == nil
}

func findChild(children []*xmlquery.Node, name string) *xmlquery.Node {
	for _, c := range children {
		if c.Data == name {
			return c
		}
	}
	return nil
}

func firstElementChild(node *xmlquery.Node) *xmlquery.Node {
	if node == nil {
		return nil
	}
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c
		}
	}
	return nil
}
