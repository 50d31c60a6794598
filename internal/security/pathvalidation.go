// Package security guards file paths taken from dataset records and
// stored identifiers.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ResolveWithin joins rel onto baseDir and rejects results that escape
// baseDir. rel must be relative; "." and ".." components are resolved
// lexically, so the check also holds for non-OS filesystems.
func ResolveWithin(baseDir, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %s must be relative to %s", rel, baseDir)
	}

	base := filepath.Clean(baseDir)
	joined := filepath.Join(base, rel)

	relPath, err := filepath.Rel(base, joined)
	if err != nil {
		return "", fmt.Errorf("path is outside %s: %w", baseDir, err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s attempts to escape %s", rel, baseDir)
	}
	return joined, nil
}

// SanitizeFilename makes a safe filename from an arbitrary string. It replaces
// any characters that are not ASCII letters, digits, dot, underscore or dash
// with an underscore, collapses repeats and trims the result to 128 bytes.
func SanitizeFilename(s string) string {
	if s == "" {
		return "unknown"
	}
	var b strings.Builder
	const maxLen = 128
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	// Trim leading/trailing underscores or dots
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
