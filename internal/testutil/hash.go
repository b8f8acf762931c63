package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	iofs "io/fs"
	"os"
	"testing"

	"boxes-go/internal/fs"
)

// SHA256Hex returns the SHA-256 checksum of data as a lowercase hex string.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashFile returns the SHA-256 of the file at path.
func HashFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return SHA256Hex(data)
}

// HashTree maps every regular file under root, by slash-separated
// relative path, to its SHA-256. A missing root gives an empty map.
func HashTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := fs.WalkFiles(context.Background(), root, nil, nil, func(rel, abs string, _ iofs.FileInfo) error {
		out[rel] = HashFile(t, abs)
		return nil
	})
	if err != nil {
		t.Fatalf("walking %s: %v", root, err)
	}
	return out
}
