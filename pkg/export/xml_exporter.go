package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// XMLExporter renders a bundle as hierarchical tagged markup.
type XMLExporter struct{}

// NewXMLExporter builds an XML exporter.
func NewXMLExporter() *XMLExporter {
	return &XMLExporter{}
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Render produces nested elements per section and field. Nil values produce
// an empty element; leaf text is escaped for the five markup metacharacters.
func (e *XMLExporter) Render(bundle Bundle) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.WriteString("<data_export>\n")
	for _, section := range sortedKeys(bundle) {
		writeElement(buf, tagName(section), bundle[section], 1)
	}
	buf.WriteString("</data_export>\n")
	return buf.Bytes(), nil
}

func writeElement(buf *bytes.Buffer, tag string, value interface{}, depth int) {
	indent := strings.Repeat("  ", depth)
	if value == nil {
		fmt.Fprintf(buf, "%s<%s/>\n", indent, tag)
		return
	}
	switch v := value.(type) {
	case map[string]interface{}:
		fmt.Fprintf(buf, "%s<%s>\n", indent, tag)
		for _, key := range sortedKeys(v) {
			writeElement(buf, tagName(key), v[key], depth+1)
		}
		fmt.Fprintf(buf, "%s</%s>\n", indent, tag)
	case []interface{}:
		fmt.Fprintf(buf, "%s<%s>\n", indent, tag)
		for _, item := range v {
			writeElement(buf, "item", item, depth+1)
		}
		fmt.Fprintf(buf, "%s</%s>\n", indent, tag)
	case []map[string]interface{}:
		// Collected record sets arrive with this concrete type.
		fmt.Fprintf(buf, "%s<%s>\n", indent, tag)
		for _, item := range v {
			writeElement(buf, "item", item, depth+1)
		}
		fmt.Fprintf(buf, "%s</%s>\n", indent, tag)
	default:
		fmt.Fprintf(buf, "%s<%s>%s</%s>\n", indent, tag, xmlEscaper.Replace(stringifyXML(v)), tag)
	}
}

func stringifyXML(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// tagName coerces arbitrary field names into valid element names.
func tagName(raw string) string {
	if raw == "" {
		return "field"
	}
	var b strings.Builder
	for i, r := range raw {
		valid := r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9' && i > 0)
		if valid {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
