package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupIdent(t *testing.T) {
	tests := []struct {
		ident string
		want  TokenType
	}{
		{"select", SELECT},
		{"within", WITHIN},
		{"all", ALL},
		{"qualify", QUALIFY},
		{"ilike", ILIKE},
		{"customers", IDENT},
		{"SELECT", IDENT}, // lookup expects lowercase input
	}

	for _, tt := range tests {
		t.Run(tt.ident, func(t *testing.T) {
			assert.Equal(t, tt.want, LookupIdent(tt.ident))
		})
	}
}

func TestTokenTypeString(t *testing.T) {
	assert.Equal(t, "SELECT", SELECT.String())
	assert.Equal(t, "WITHIN", WITHIN.String())
	assert.Equal(t, "::", DCOLON.String())
	assert.Equal(t, "TOKEN(5000)", TokenType(5000).String())
}

func TestKeywordClassification(t *testing.T) {
	assert.Len(t, keywordNames, int(WITHIN-ALL)+1)
	assert.True(t, IsKeyword(ALL))
	assert.True(t, IsKeyword(WITHIN))
	assert.False(t, IsKeyword(IDENT))
	assert.True(t, IsOperator(DCOLON))
	assert.False(t, IsOperator(SELECT))
	assert.True(t, IsNonReserved(TABLE))
	assert.False(t, IsNonReserved(SELECT))
}

func TestSpan(t *testing.T) {
	s := Span{
		Start: Position{Line: 1, Column: 1, Offset: 0},
		End:   Position{Line: 1, Column: 7, Offset: 6},
	}
	assert.True(t, s.IsValid())
	assert.True(t, s.Contains(0))
	assert.False(t, s.Contains(6))
	assert.False(t, Span{}.IsValid())
}
