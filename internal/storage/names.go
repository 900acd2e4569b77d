package storage

import (
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// sanitizeFileName strips directory components from a file name so a
// crafted name cannot steer the write path.
func sanitizeFileName(fileName string) string {
	name := filepath.Base(filepath.FromSlash(strings.TrimSpace(fileName)))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}

// randomHex returns n random bytes hex-encoded (2n characters).
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// originalName recovers the caller-supplied file name from a stored name
// of the form {randomprefix}_{name}. Used for prefix filtering in list so
// filters apply to the name the caller wrote, not the generated one.
func originalName(storedName string) string {
	if i := strings.Index(storedName, "_"); i >= 0 {
		return storedName[i+1:]
	}
	return storedName
}
