package export

import (
	"encoding/json"
	"fmt"
)

// JSONExporter renders a bundle as indented JSON with stable key ordering.
type JSONExporter struct{}

// NewJSONExporter builds a JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

// Render produces two-space indented JSON bytes for the bundle.
func (e *JSONExporter) Render(bundle Bundle) ([]byte, error) {
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render json export: %w", err)
	}
	return append(data, '\n'), nil
}
