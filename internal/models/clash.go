package models

import (
	"fmt"
	"strings"
	"time"
)

// ClashStatus is the review state of a clash, independent of the job status.
type ClashStatus string

const (
	ClashStatusOpen      ClashStatus = "open"
	ClashStatusResolved  ClashStatus = "resolved"
	ClashStatusReviewing ClashStatus = "reviewing"
)

// DefaultSeverity is the severity assigned when none is computed.
const DefaultSeverity = 3

// ParseClashStatus parses a review status, case-insensitively.
func ParseClashStatus(s string) (ClashStatus, error) {
	switch ClashStatus(strings.ToLower(strings.TrimSpace(s))) {
	case ClashStatusOpen:
		return ClashStatusOpen, nil
	case ClashStatusResolved:
		return ClashStatusResolved, nil
	case ClashStatusReviewing:
		return ClashStatusReviewing, nil
	}
	return "", fmt.Errorf("unknown clash status %q (want open, reviewing or resolved)", s)
}

// ElementPair holds the snapshots of the two clashing elements.
type ElementPair struct {
	Element1 ElementSnapshot `json:"element1"`
	Element2 ElementSnapshot `json:"element2"`
}

// Clash is one retained clash finding of a job.
type Clash struct {
	GUID        string      `json:"guid"`
	Job         string      `json:"job"`
	Project     string      `json:"project"`
	Status      ClashStatus `json:"status"`
	DetectedAt  time.Time   `json:"detected_at"`
	ResolvedAt  *time.Time  `json:"resolved_at,omitempty"`
	ElementData ElementPair `json:"element_data"`
	Distance    float64     `json:"distance"` // negative = penetration depth
	Severity    int         `json:"severity"` // 1-5
	Category    string      `json:"category"`
	Resolution  *string     `json:"resolution,omitempty"`
	Snapshot    *string     `json:"snapshot,omitempty"` // external visual capture reference
	GroupSize   int         `json:"group_size,omitempty"`
}

// ClashFilter narrows a clash listing.
type ClashFilter struct {
	Status      ClashStatus `json:"status,omitempty"` // empty = any
	MinSeverity int         `json:"min_severity,omitempty"`
	Limit       int         `json:"limit,omitempty"`
}
