package validation_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/dynamodel/pkg/validation"
)

func TestValidateTableName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"simple", "Thread", true},
		{"punctuation", "my-table_v2.prod", true},
		{"reserved words are fine", "user-updates", true},
		{"too short", "ab", false},
		{"too long", strings.Repeat("a", 256), false},
		{"space", "my table", false},
		{"slash", "a/b/c", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validation.ValidateTableName(tt.input)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var nameErr *validation.NameError
			require.ErrorAs(t, err, &nameErr)
			assert.Equal(t, "table name", nameErr.Kind)
		})
	}
}

func TestValidateIndexName(t *testing.T) {
	assert.NoError(t, validation.ValidateIndexName(""))
	assert.NoError(t, validation.ValidateIndexName("gsi-email"))
	assert.Error(t, validation.ValidateIndexName("ix"))
	assert.Error(t, validation.ValidateIndexName("bad index"))
}

func TestValidateAttrName(t *testing.T) {
	assert.NoError(t, validation.ValidateAttrName("Size"))
	assert.NoError(t, validation.ValidateAttrName("a.b[0]"))
	assert.NoError(t, validation.ValidateAttrName("préférence"))
	assert.Error(t, validation.ValidateAttrName(""))
	assert.Error(t, validation.ValidateAttrName("tab\there"))
	assert.Error(t, validation.ValidateAttrName(strings.Repeat("x", 256)))
	assert.Error(t, validation.ValidateAttrName(string([]byte{0xff, 0xfe})))
}

func TestStruct(t *testing.T) {
	type def struct {
		Table string `validate:"required,ddb_table"`
		Attr  string `validate:"required,ddb_attr"`
		Type  string `validate:"required,ddb_type"`
		Index string `validate:"ddb_index"`
		Mode  string `validate:"omitempty,oneof=ALL KEYS_ONLY"`
	}

	require.NoError(t, validation.Struct(def{Table: "Thread", Attr: "ForumName", Type: "S"}))

	err := validation.Struct(def{Table: "x", Attr: "", Type: "Q", Index: "a b", Mode: "SOME"})
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "def.Table is not a valid name")
	assert.Contains(t, msg, "def.Attr is required")
	assert.Contains(t, msg, "def.Type is not a known attribute type")
	assert.Contains(t, msg, "def.Index is not a valid name")
	assert.Contains(t, msg, "def.Mode must be one of: ALL KEYS_ONLY")
}
