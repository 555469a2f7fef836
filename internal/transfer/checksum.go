package transfer

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/NamanBalaji/fetcharr/internal/errors"
)

// newHash picks the digest from the length of the expected hex string, md5 otherwise.
func newHash(expected string) hash.Hash {
	switch len(expected) {
	case sha1.Size * 2:
		return sha1.New()
	case sha256.Size * 2:
		return sha256.New()
	default:
		return md5.New()
	}
}

func verifyChecksum(path, expected string) error {
	expected = strings.ToLower(strings.TrimSpace(expected))

	f, err := os.Open(path)
	if err != nil {
		return errors.NewValidationError(fmt.Errorf("checksum validation failed: %w", err), path)
	}
	defer f.Close()

	h := newHash(expected)
	if _, err := io.Copy(h, f); err != nil {
		return errors.NewValidationError(fmt.Errorf("checksum validation failed: %w", err), path)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if actual != expected {
		return errors.NewValidationError(
			fmt.Errorf("%w: expected %s, got %s", errors.ErrChecksumMismatch, expected, actual), path)
	}

	return nil
}
