package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileLoader reads a profile from a local .json, .yaml or .yml file.
type FileLoader struct {
	Path string
}

func (l FileLoader) Load(_ context.Context) (Document, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return Document{}, fmt.Errorf("read profile %s: %w", l.Path, err)
	}
	switch strings.ToLower(filepath.Ext(l.Path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return Parse(data)
	}
}

// ParseYAML decodes a YAML mapping into a Document.
func ParseYAML(data []byte) (Document, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Document{}, ErrEmpty
	}
	var fields map[string]any
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return Document{}, fmt.Errorf("decode yaml profile: %w", err)
	}
	if fields == nil {
		return Document{}, ErrNotObject
	}
	return FromMap(fields)
}
