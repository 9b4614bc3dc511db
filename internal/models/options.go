package models

import (
	"fmt"
	"strings"
)

type Quality string

const (
	QualityLow     Quality = "low"
	QualityMedium  Quality = "medium"
	QualityHigh    Quality = "high"
	QualityMaximum Quality = "maximum"
)

// ParseQuality accepts the four presets case-insensitively. An empty value
// means medium; anything else is an error.
func ParseQuality(s string) (Quality, error) {
	switch q := Quality(strings.ToLower(strings.TrimSpace(s))); q {
	case "":
		return QualityMedium, nil
	case QualityLow, QualityMedium, QualityHigh, QualityMaximum:
		return q, nil
	default:
		return "", fmt.Errorf("unknown quality %q, expected low, medium, high or maximum", s)
	}
}

type PageSize string

const (
	PageSizeA4       PageSize = "a4"
	PageSizeLetter   PageSize = "letter"
	PageSizeOriginal PageSize = "original"
)

// ParsePageSize accepts a4, letter or original. An empty value means a4.
func ParsePageSize(s string) (PageSize, error) {
	switch p := PageSize(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PageSizeA4, nil
	case PageSizeA4, PageSizeLetter, PageSizeOriginal:
		return p, nil
	default:
		return "", fmt.Errorf("unknown page size %q, expected a4, letter or original", s)
	}
}
