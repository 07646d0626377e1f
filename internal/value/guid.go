package value

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/example/esedb/internal/errs"
)

// FormatGUID renders a 16-byte GUID in registry form. The first three groups
// are stored little-endian.
func FormatGUID(raw []byte) (string, error) {
	if len(raw) != 16 {
		return "", fmt.Errorf("value: GUID has %d bytes, want 16: %w", len(raw), errs.ErrRecordCorruption)
	}
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = raw[3], raw[2], raw[1], raw[0]
	u[4], u[5] = raw[5], raw[4]
	u[6], u[7] = raw[7], raw[6]
	copy(u[8:], raw[8:])
	return "{" + strings.ToUpper(u.String()) + "}", nil
}
