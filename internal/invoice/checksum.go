package invoice

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrDuplicateChecksum rejects an apply whose batch checksum matches a
// previously committed import. The operator can opt in to a forced
// re-apply.
var ErrDuplicateChecksum = errors.New("an import with this checksum was already applied")

// ErrImportBusy rejects an apply while another instance holds the
// apply lock. The preview path is never affected.
var ErrImportBusy = errors.New("another import is currently being applied")

// CatalogError marks a network or service failure talking to the
// catalog collaborator. Fatal for the current call; no partial commit
// is assumed.
type CatalogError struct {
	Err error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog service: %v", e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }

// BatchChecksum fingerprints the source file bytes. The same file
// uploaded twice produces the same checksum regardless of options or
// overrides, which is exactly what the duplicate guard needs.
func BatchChecksum(fileBytes []byte) string {
	sum := sha256.Sum256(fileBytes)
	return hex.EncodeToString(sum[:])
}
