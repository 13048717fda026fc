package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// FileDigest identifies the exact bytes of an artifact.
type FileDigest struct {
	Digest string // "sha256:<hex>"
	Size   int64
}

// GetDigestOfFile calculates the SHA256 digest and size of a file.
func GetDigestOfFile(filepath string) (FileDigest, error) {
	if filepath == "" {
		return FileDigest{}, fmt.Errorf("filepath cannot be empty")
	}

	file, err := os.Open(filepath)
	if err != nil {
		return FileDigest{}, fmt.Errorf("failed to open file %s: %w", filepath, err)
	}
	defer file.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return FileDigest{}, fmt.Errorf("failed to read file %s: %w", filepath, err)
	}

	return FileDigest{
		Digest: "sha256:" + hex.EncodeToString(hasher.Sum(nil)),
		Size:   size,
	}, nil
}
