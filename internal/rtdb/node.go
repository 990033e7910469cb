package rtdb

import (
	"errors"
	"fmt"
	"strings"
)

const maxPathLength = 512

var (
	// ErrInvalidPath indicates that a tree path is empty or malformed.
	ErrInvalidPath = errors.New("rtdb: invalid path")
	// ErrNodeNotFound indicates that no node exists at the requested path.
	ErrNodeNotFound = errors.New("rtdb: node not found")
)

// Node is the persisted representation of one tree entry. Each node holds a
// single JSON document; children are the nodes exactly one level below it.
type Node struct {
	Path            string `gorm:"column:path;primaryKey;size:512;not null"`
	Value           string `gorm:"column:value;type:text;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Node) TableName() string {
	return "tree_nodes"
}

// NormalizePath validates raw input and returns the canonical slash-separated
// form with no leading or trailing separators.
func NormalizePath(rawInput string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(rawInput), "/")
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if len(trimmed) > maxPathLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPath, maxPathLength)
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == "" {
			return "", fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, rawInput)
		}
	}
	return trimmed, nil
}

// childKey returns the key of the direct child of parent on the way to path,
// or false when path is not below parent.
func childKey(parent, path string) (string, bool) {
	if !strings.HasPrefix(path, parent+"/") {
		return "", false
	}
	remainder := strings.TrimPrefix(path, parent+"/")
	if remainder == "" {
		return "", false
	}
	if idx := strings.IndexByte(remainder, '/'); idx >= 0 {
		return remainder[:idx], true
	}
	return remainder, true
}

// pathsOverlap reports whether a mutation at mutated is visible to a listener
// rooted at subscribed: true when either path contains the other.
func pathsOverlap(subscribed, mutated string) bool {
	if subscribed == mutated {
		return true
	}
	if strings.HasPrefix(mutated, subscribed+"/") {
		return true
	}
	return strings.HasPrefix(subscribed, mutated+"/")
}
