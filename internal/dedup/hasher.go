package dedup

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Hasher turns the configured fields of a message into a stable key.
type Hasher struct {
	algorithm string
}

func NewHasher(algorithm string) *Hasher {
	return &Hasher{algorithm: algorithm}
}

// Hash joins the values of fields in order; a missing field hashes as
// empty so adding a field to a message never changes older keys.
func (h *Hasher) Hash(values map[string]string, fields []string) (string, error) {
	if len(fields) == 0 {
		return "", fmt.Errorf("no fields specified for hashing")
	}

	var b strings.Builder
	for _, field := range fields {
		b.WriteString(field)
		b.WriteByte('=')
		b.WriteString(values[field])
		b.WriteByte('|')
	}

	switch h.algorithm {
	case "md5":
		sum := md5.Sum([]byte(b.String()))
		return hex.EncodeToString(sum[:]), nil
	default:
		sum := sha256.Sum256([]byte(b.String()))
		return hex.EncodeToString(sum[:]), nil
	}
}
