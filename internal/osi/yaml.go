package osi

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ToYAML serializes a document to YAML. The conversion is a pure rendering of
// the JSON structure; no validation or repair happens here.
func ToYAML(doc Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("osi: nil document")
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("osi: yaml encode: %w", err)
	}
	return out, nil
}
