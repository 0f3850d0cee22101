package utils_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"ms-ledger/internal/utils"
)

func TestGenerateOrderCode(t *testing.T) {
	const alphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := utils.GenerateOrderCode()
		assert.Len(t, code, 8)
		for _, c := range code {
			assert.True(t, strings.ContainsRune(alphabet, c), "unexpected character %q in code %s", c, code)
		}
		seen[code] = true
	}
	// 100 draws from a 56^8 space never collide in practice.
	assert.Len(t, seen, 100)
}
