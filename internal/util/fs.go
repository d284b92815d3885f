package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// SafeJoin keeps name inside root. Directory parts are discarded and names
// that would resolve to root or its parent are replaced by "_".
func SafeJoin(root, name string) string {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." || base == string(filepath.Separator) {
		base = "_"
	}
	return filepath.Join(root, base)
}

// SHA256Hex is the content digest recorded on documents.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
