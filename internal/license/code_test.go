package license

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeFormat(t *testing.T) {
	for i := 0; i < 500; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.True(t, IsValidCodeFormat(code), "generated code %q must be valid", code)
		assert.Len(t, code, 14)
	}
}

func TestAlphabetExcludesConfusableCharacters(t *testing.T) {
	for _, forbidden := range []string{"0", "O", "1", "I", "L"} {
		assert.NotContains(t, Alphabet, forbidden)
	}
	assert.Len(t, Alphabet, 31)
}

func TestGenerateCodeNeverEmitsForbiddenSymbols(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		stripped := strings.ReplaceAll(code, "-", "")
		for _, r := range stripped {
			assert.Contains(t, Alphabet, string(r))
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "abcd-efgh-jkmn", "ABCD-EFGH-JKMN"},
		{"surrounding whitespace", "  ABCD-EFGH-JKMN\n", "ABCD-EFGH-JKMN"},
		{"inner spaces", "ABCD - EFGH - JKMN", "ABCD-EFGH-JKMN"},
		{"empty", "", ""},
		{"tabs", "\tAB CD\t", "ABCD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCode(tt.input))
		})
	}
}

func TestIsValidCodeFormat(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"valid", "ABCD-EFGH-JKMN", true},
		{"valid lowercase input", "abcd-efgh-jkmn", true},
		{"valid with whitespace", " ABCD-EFGH-JKMN ", true},
		{"contains O", "ABCO-EFGH-JKMN", false},
		{"contains 0", "ABC0-EFGH-JKMN", false},
		{"contains I", "ABCI-EFGH-JKMN", false},
		{"contains 1", "ABC1-EFGH-JKMN", false},
		{"contains L", "ABCL-EFGH-JKMN", false},
		{"missing group", "ABCD-EFGH", false},
		{"extra group", "ABCD-EFGH-JKMN-PQRS", false},
		{"no separators", "ABCDEFGHJKMN", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidCodeFormat(tt.input))
		})
	}
}
