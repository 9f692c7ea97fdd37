package easebuzz

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// NewTransactionID returns a fresh gateway transaction reference.
// Format: TKT + UTC timestamp + 10 random hex chars, e.g. TKT20261019093015A1B2C3D4E5.
// The gateway only accepts alphanumerics, so no separators are used.
func NewTransactionID() (string, error) {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("TKT%s%s", time.Now().UTC().Format("20060102150405"), strings.ToUpper(hex.EncodeToString(b))), nil
}
