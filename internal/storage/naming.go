package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ObjectName generates a unique object name
func ObjectName(prefix string, id uuid.UUID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	base := strings.TrimSuffix(path.Base(fileName), path.Ext(fileName))
	sanitizedBase := SanitizeFileName(base)
	if sanitizedBase == "" || sanitizedBase == "." {
		sanitizedBase = "asset"
	}
	name := fmt.Sprintf("%s/%s%s", id.String(), sanitizedBase, ext)
	if prefix != "" {
		name = strings.TrimSuffix(prefix, "/") + "/" + name
	}
	return name
}

// SanitizeFileName sanitizes a file name for storage
func SanitizeFileName(fileName string) string {
	// Replace special characters with underscores
	fileName = strings.ReplaceAll(fileName, " ", "_")

	// Remove any special characters
	fileName = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.' {
			return r
		}
		return -1
	}, fileName)

	return fileName
}
