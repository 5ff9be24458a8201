// xmlnorm/normalize_test.go
package xmlnorm

import (
	"strings"
	"testing"

	"github.com/antchfx/xmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseRoot(t *testing.T, doc string) *xmlquery.Node {
	t.Helper()
	parsed, err := xmlquery.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	root := firstElementChild(parsed)
	require.NotNil(t, root)
	return root
}

// TestNormalizeRoundTrip verifies that a document whose value already conforms
// to the template's shape normalizes back to exactly that value.
func TestNormalizeRoundTrip(t *testing.T) {
	tmpl := Map{
		"id":   Int(-1),
		"name": String(""),
		"versions": ListOf(Map{
			"name": String(""),
		}),
	}

	doc := `<x><id>7</id><name>Widget</name><versions>` +
		`<version><name>A</name></version>` +
		`<version><name>B</name></version>` +
		`</versions></x>`

	got := Normalize(parseRoot(t, doc), tmpl)

	expected := map[string]interface{}{
		"id":   7,
		"name": "Widget",
		"versions": []interface{}{
			map[string]interface{}{"name": "A"},
			map[string]interface{}{"name": "B"},
		},
	}
	assert.Equal(t, expected, got)
}

// TestNormalizeSizeSuppression verifies that a childless integer <size> child
// does not influence list results, and that its absence gives the same answer.
func TestNormalizeSizeSuppression(t *testing.T) {
	tmpl := ListOf(String(""))

	withSize := Normalize(parseRoot(t, `<items><size>2</size><item>A</item><item>B</item></items>`), tmpl)
	withoutSize := Normalize(parseRoot(t, `<items><item>A</item><item>B</item></items>`), tmpl)

	assert.Equal(t, []interface{}{"A", "B"}, withSize)
	assert.Equal(t, withSize, withoutSize)
}

// TestNormalizeSizeKeptWhenStructural verifies the suppression preconditions:
// a <size> with element children, non-integer text, or a duplicate sibling is
// left alone.
func TestNormalizeSizeKeptWhenStructural(t *testing.T) {
	tmpl := ListOf(String(""))

	t.Run("Size With Children Survives", func(t *testing.T) {
		got := Normalize(parseRoot(t, `<items><size><unit>cm</unit></size><item>A</item></items>`), tmpl)
		assert.Len(t, got, 2)
	})

	t.Run("Non Integer Size Survives", func(t *testing.T) {
		got := Normalize(parseRoot(t, `<items><size>XL</size><item>A</item></items>`), tmpl)
		assert.Equal(t, []interface{}{"XL", "A"}, got)
	})

	t.Run("Two Size Children Survive", func(t *testing.T) {
		got := Normalize(parseRoot(t, `<items><size>1</size><size>2</size></items>`), tmpl)
		assert.Equal(t, []interface{}{"1", "2"}, got)
	})
}

// TestNormalizeScalarDefaults verifies the per-kind default-on-absence rules.
func TestNormalizeScalarDefaults(t *testing.T) {
	tmpl := Map{
		"count":   Int(0),
		"ratio":   Float(0),
		"label":   String("unnamed"),
		"managed": Bool(),
	}

	t.Run("All Present", func(t *testing.T) {
		doc := `<r><count>12</count><ratio>1.5</ratio><label>ok</label><managed>true</managed></r>`
		got := Normalize(parseRoot(t, doc), tmpl).(map[string]interface{})
		assert.Equal(t, 12, got["count"])
		assert.Equal(t, 1.5, got["ratio"])
		assert.Equal(t, "ok", got["label"])
		assert.Equal(t, true, got["managed"])
	})

	t.Run("All Absent", func(t *testing.T) {
		got := Normalize(parseRoot(t, `<r></r>`), tmpl).(map[string]interface{})
		assert.Equal(t, 0, got["count"])
		assert.Equal(t, 0.0, got["ratio"])
		assert.Equal(t, "unnamed", got["label"])
		assert.Nil(t, got["managed"])
	})

	t.Run("Empty Text Uses Defaults", func(t *testing.T) {
		doc := `<r><count></count><label></label><managed>FALSE</managed></r>`
		got := Normalize(parseRoot(t, doc), tmpl).(map[string]interface{})
		assert.Equal(t, 0, got["count"])
		assert.Equal(t, "unnamed", got["label"])
		// Only the strict lowercase literal "true" is true.
		assert.Equal(t, false, got["managed"])
	})
}

// TestNormalizeMissingBranches verifies that wholly absent branches normalize
// to typed empty values, while a present-but-empty branch still recurses and
// fills per-key defaults.
func TestNormalizeMissingBranches(t *testing.T) {
	tmpl := Map{
		"general": Map{"id": Int(-1)},
		"scripts": ListOf(String("")),
	}

	got := Normalize(parseRoot(t, `<computer/>`), tmpl).(map[string]interface{})
	assert.Equal(t, map[string]interface{}{}, got["general"], "absent map branch yields an empty map")
	assert.Equal(t, []interface{}{}, got["scripts"])

	withBranch := Normalize(parseRoot(t, `<computer><general/></computer>`), tmpl).(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"id": -1}, withBranch["general"], "empty present branch fills per-key defaults")

	// A nil node at the top level behaves the same way.
	assert.Equal(t, map[string]interface{}{}, Normalize(nil, tmpl))
	assert.Equal(t, []interface{}{}, Normalize(nil, ListOf(Int(0))))
}

func TestNormalizeDocument(t *testing.T) {
	got, err := NormalizeDocument(
		`<?xml version="1.0" encoding="UTF-8"?><pkg><id>3</id></pkg>`,
		Map{"id": Int(-1)},
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"id": 3}, got)
}
