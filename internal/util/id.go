package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// ChecklistID builds the stable identifier of a generated checklist item.
// Parts are joined with "-" after the "doc" prefix, e.g. doc-op-001-p1-emp-3.
func ChecklistID(operationID string, scope ...string) string {
	parts := make([]string, 0, len(scope)+2)
	parts = append(parts, "doc", operationID)
	for _, part := range scope {
		if part == "" {
			continue
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "-")
}
