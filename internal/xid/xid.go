package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier such as "audit-3f2a...".
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// Receipt returns a printable sale reference: the date followed by 16 hex
// digits of a random uuid, e.g. "S20240301-9C1E04AB7F3D2E10".
func Receipt(at time.Time) string {
	short := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
	return fmt.Sprintf("S%s-%s", at.UTC().Format("20060102"), short)
}
