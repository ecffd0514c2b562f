package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidElement is returned by Element.Validate for unusable geometry or identity.
var ErrInvalidElement = errors.New("invalid element")

// Vec3 is a plain 3D coordinate as stored in element documents.
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

func (v Vec3) finite() bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Element is a building-model element extracted from an IFC file.
// Elements are read-only input to a detection run.
type Element struct {
	GUID       string         `json:"guid" yaml:"guid"`
	Type       int            `json:"type" yaml:"type"`           // numeric IFC class code
	TypeName   string         `json:"type_name" yaml:"type_name"` // e.g. IfcWall
	Category   string         `json:"category,omitempty" yaml:"category,omitempty"`
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
	File       string         `json:"file" yaml:"file"`
	Project    string         `json:"project" yaml:"project"`
	Parent     string         `json:"parent,omitempty" yaml:"parent,omitempty"` // aggregating element guid
	Position   Vec3           `json:"position" yaml:"position"`                 // centre
	Dimensions Vec3           `json:"dimensions" yaml:"dimensions"`             // full extents
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Validate rejects elements whose identity or geometry cannot be indexed.
// Zero-sized dimensions are allowed and treated as points.
func (e *Element) Validate() error {
	if e.GUID == "" {
		return fmt.Errorf("%w: missing guid", ErrInvalidElement)
	}
	if !e.Position.finite() {
		return fmt.Errorf("%w: %s has non-finite position", ErrInvalidElement, e.GUID)
	}
	if !e.Dimensions.finite() {
		return fmt.Errorf("%w: %s has non-finite dimensions", ErrInvalidElement, e.GUID)
	}
	if e.Dimensions.X < 0 || e.Dimensions.Y < 0 || e.Dimensions.Z < 0 {
		return fmt.Errorf("%w: %s has negative dimensions", ErrInvalidElement, e.GUID)
	}
	return nil
}

// DisplayName returns the element name, falling back to its type name.
func (e *Element) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	if name, ok := e.Properties["Name"].(string); ok && name != "" {
		return name
	}
	return e.TypeName
}

// Snapshot copies the identifying fields of the element at detection time.
func (e *Element) Snapshot() ElementSnapshot {
	return ElementSnapshot{
		ID:       e.GUID,
		ModelID:  e.File,
		Type:     e.Type,
		TypeName: e.TypeName,
		Name:     e.DisplayName(),
	}
}

// ElementSnapshot is the denormalized record of a clashing element. It is the
// system of record for what clashed; there is no live reference back to Element.
type ElementSnapshot struct {
	ID       string `json:"id"`
	ModelID  string `json:"model_id"`
	Type     int    `json:"type"`
	TypeName string `json:"type_name"`
	Name     string `json:"name"`
}
