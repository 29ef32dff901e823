package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_ResolveColumn(t *testing.T) {
	root := NewScope()
	require.NoError(t, root.Register(&ScopeEntry{Type: ScopeTable, Name: "accounts", Alias: "a", Source: "accounts"}))

	s := root.Child()
	require.NoError(t, s.Register(&ScopeEntry{Type: ScopeUnit, Name: "t", Source: "t", Columns: []string{"id", "value"}}))
	require.NoError(t, s.Register(&ScopeEntry{Type: ScopeTable, Name: "orders", Alias: "o", Source: "sales.orders"}))

	tests := []struct {
		name    string
		ref     *ColumnRef
		want    string
		wantErr string
	}{
		{"known column", &ColumnRef{Column: "VALUE"}, "t", ""},
		{"single unknown entry", &ColumnRef{Column: "amount"}, "o", ""},
		{"qualified by alias", &ColumnRef{Table: "o", Column: "id"}, "o", ""},
		{"outer qualifier", &ColumnRef{Table: "a", Column: "id"}, "a", ""},
		{"unknown qualifier", &ColumnRef{Table: "x", Column: "id"}, "", "unknown table"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := s.ResolveColumn(tt.ref)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, entry.EffectiveName())
		})
	}

	outer, err := s.ResolveColumn(&ColumnRef{Table: "a", Column: "id"})
	require.NoError(t, err)
	assert.False(t, s.Owns(outer))
	assert.True(t, root.Owns(outer))
}

func TestScope_Ambiguity(t *testing.T) {
	s := NewScope()
	require.NoError(t, s.Register(&ScopeEntry{Type: ScopeTable, Name: "a", Source: "a"}))
	require.NoError(t, s.Register(&ScopeEntry{Type: ScopeTable, Name: "b", Source: "b"}))

	_, err := s.ResolveColumn(&ColumnRef{Column: "id"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")

	err = s.Register(&ScopeEntry{Type: ScopeTable, Name: "a", Source: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate table alias")
}

func TestScope_ExpandStar(t *testing.T) {
	s := NewScope()
	require.NoError(t, s.Register(&ScopeEntry{Type: ScopeUnit, Name: "t", Source: "t", Columns: []string{"id", "value"}}))

	refs, ok := s.ExpandStar("")
	require.True(t, ok)
	require.Len(t, refs, 2)
	assert.Equal(t, &ColumnRef{Table: "t", Column: "value"}, refs[1])

	require.NoError(t, s.Register(&ScopeEntry{Type: ScopeTable, Name: "raw", Source: "raw"}))
	_, ok = s.ExpandStar("")
	assert.False(t, ok)

	refs, ok = s.ExpandStar("t")
	require.True(t, ok)
	assert.Len(t, refs, 2)
}

func TestScope_QualifiedTableName(t *testing.T) {
	s := NewScope()
	require.NoError(t, s.Register(&ScopeEntry{Type: ScopeTable, Name: "orders", Source: "sales.orders"}))

	entry, ok := s.Lookup("sales.orders")
	require.True(t, ok)
	assert.Equal(t, "orders", entry.Name)

	entry, ok = s.Lookup("ORDERS")
	require.True(t, ok)
	assert.Equal(t, "sales.orders", entry.Source)
}
