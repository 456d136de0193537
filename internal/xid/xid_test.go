package xid

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("audit")
	b := New("audit")
	assert.True(t, strings.HasPrefix(a, "audit-"))
	assert.NotEqual(t, a, b)
}

func TestReceiptCarriesDate(t *testing.T) {
	ref := Receipt(time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC))
	assert.Regexp(t, `^S20240301-[0-9A-F]{16}$`, ref)
}

func TestReceiptsDoNotRepeat(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		ref := Receipt(at)
		_, dup := seen[ref]
		assert.False(t, dup, ref)
		seen[ref] = struct{}{}
	}
}
