package dbuild

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

// ChecksumSkip in a recipe disables verification for the matching source.
const ChecksumSkip = "skip"

// hashFile returns the lowercase hex SHA-256 digest of the file at path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyChecksum checks the file at path against want. An empty want prints
// a warning and passes, ChecksumSkip passes silently, and a mismatch returns
// a ChecksumError with the file left in place for inspection.
func verifyChecksum(path, want string) error {
	if strings.EqualFold(want, ChecksumSkip) {
		return nil
	}
	if want == "" {
		cPrintf(colWarn, "warning: no checksum for %s, skipping verification\n", path)
		return nil
	}
	got, err := hashFile(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, want) {
		return &ChecksumError{Path: path, Want: want, Got: got}
	}
	return nil
}

// hashString returns the hex BLAKE3 digest of s, used for cache keys.
func hashString(s string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}
