// xmlnorm/template.go
/* The xmlnorm package converts XML element trees into nested native values
(maps, lists, scalars) according to a declarative shape template. It exists
because the Classic API's JSON serialization omits fields and mis-nests arrays
for certain resource types; re-requesting those resources as XML and running
the tree through Normalize is the only way to obtain trustworthy structured
data for them. */
package xmlnorm

// ScalarKind identifies the native type a scalar template position produces.
type ScalarKind int

const (
	// KindString produces a string, defaulting when the element text is empty.
	KindString ScalarKind = iota
	// KindInt produces an int parsed from the element text.
	KindInt
	// KindFloat produces a float64 parsed from the element text.
	KindFloat
	// KindBool produces true for the literal lowercase text "true", false for
	// any other text, and nil when the element is absent.
	KindBool
)

// Template describes the expected shape of an XML subtree. It is a closed sum:
// Scalar, List, or Map.
type Template interface {
	// emptyDefault is the value produced when the templated element is wholly
	// absent from the document.
	emptyDefault() interface{}
}

// Scalar declares a leaf position of a given kind with a default used when the
// element text is absent or empty.
type Scalar struct {
	Kind          ScalarKind
	DefaultString string
	DefaultInt    int
	DefaultFloat  float64
}

// List declares a repeated position: every child of the templated element is a
// repetition of the Of shape.
type List struct {
	Of Template
}

// Map declares named child elements, each with its own sub-template.
type Map map[string]Template

func (s Scalar) emptyDefault() interface{} {
	switch s.Kind {
	case KindInt:
		return s.DefaultInt
	case KindFloat:
		return s.DefaultFloat
	case KindBool:
		return nil
	default:
		return s.DefaultString
	}
}

func (l List) emptyDefault() interface{} { return []interface{}{} }

func (m Map) emptyDefault() interface{} { return map[string]interface{}{} }

// String returns a string-kind Scalar with the given default.
func String(def string) Scalar { return Scalar{Kind: KindString, DefaultString: def} }

// Int returns an int-kind Scalar with the given default.
func Int(def int) Scalar { return Scalar{Kind: KindInt, DefaultInt: def} }

// Float returns a float-kind Scalar with the given default.
func Float(def float64) Scalar { return Scalar{Kind: KindFloat, DefaultFloat: def} }

// Bool returns a bool-kind Scalar. Absence normalizes to nil rather than false
// so callers can distinguish "unset" from "explicitly false".
func Bool() Scalar { return Scalar{Kind: KindBool} }

// ListOf returns a List template repeating the given shape.
func ListOf(of Template) List { return List{Of: of} }
