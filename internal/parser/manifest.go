// Package parser reads element manifests: the extracted geometry of one or
// more IFC files, as YAML or JSON documents.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/clashcheck/internal/models"
)

// Format is the encoding of a manifest.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ErrInvalidManifest is returned for manifests that cannot be imported.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest is an element manifest. Project and File are defaults for elements
// that leave them empty. Parameters are only used by offline checks.
type Manifest struct {
	Project    string             `json:"project" yaml:"project"`
	File       string             `json:"file,omitempty" yaml:"file,omitempty"`
	Parameters *models.Parameters `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Elements   []models.Element   `json:"elements" yaml:"elements"`
}

// Files returns the distinct element files in first-seen order.
func (m *Manifest) Files() []string {
	seen := make(map[string]bool)
	var files []string
	for _, e := range m.Elements {
		if !seen[e.File] {
			seen[e.File] = true
			files = append(files, e.File)
		}
	}
	return files
}

// FormatFromPath picks the format by file extension; anything but .json is YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// LoadManifest reads and parses the manifest at path. When the manifest sets
// no file, the base name of path is used.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := decode(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.File == "" {
		m.File = filepath.Base(path)
	}
	if err := m.normalize(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseManifest parses a manifest from data.
func ParseManifest(data []byte, format Format) (*Manifest, error) {
	m, err := decode(data, format)
	if err != nil {
		return nil, err
	}
	if err := m.normalize(); err != nil {
		return nil, err
	}
	return m, nil
}

func decode(data []byte, format Format) (*Manifest, error) {
	var m Manifest
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidManifest, format)
	}
	return &m, nil
}

// normalize applies the manifest defaults and validates every element.
func (m *Manifest) normalize() error {
	if len(m.Elements) == 0 {
		return fmt.Errorf("%w: no elements", ErrInvalidManifest)
	}
	seen := make(map[string]bool, len(m.Elements))
	for i := range m.Elements {
		e := &m.Elements[i]
		if e.Project == "" {
			e.Project = m.Project
		}
		if e.File == "" {
			e.File = m.File
		}
		if e.Project == "" {
			return fmt.Errorf("%w: element %d (%s) has no project", ErrInvalidManifest, i, e.GUID)
		}
		if e.File == "" {
			return fmt.Errorf("%w: element %d (%s) has no file", ErrInvalidManifest, i, e.GUID)
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%w: element %d: %w", ErrInvalidManifest, i, err)
		}
		if seen[e.GUID] {
			return fmt.Errorf("%w: duplicate guid %s", ErrInvalidManifest, e.GUID)
		}
		seen[e.GUID] = true
	}
	if m.Parameters != nil {
		p := m.Parameters.WithDefaults()
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
		}
		m.Parameters = &p
	}
	return nil
}
