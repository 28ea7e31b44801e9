package wire

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalTaggedDocuments(t *testing.T) {
	tests := []struct {
		name string
		av   types.AttributeValue
		want string
	}{
		{"string", &types.AttributeValueMemberS{Value: "foo-subject"}, `{"S":"foo-subject"}`},
		{"number", &types.AttributeValueMemberN{Value: "12.50"}, `{"N":"12.50"}`},
		{"binary", &types.AttributeValueMemberB{Value: []byte{0x01, 0x02}}, `{"B":"AQI="}`},
		{"bool", &types.AttributeValueMemberBOOL{Value: false}, `{"BOOL":false}`},
		{"null", &types.AttributeValueMemberNULL{Value: true}, `{"NULL":true}`},
		{"list", &types.AttributeValueMemberL{Value: []types.AttributeValue{
			&types.AttributeValueMemberS{Value: "a"},
			&types.AttributeValueMemberN{Value: "1"},
		}}, `{"L":[{"S":"a"},{"N":"1"}]}`},
		{"map keys sorted", &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"z": &types.AttributeValueMemberS{Value: "last"},
			"a": &types.AttributeValueMemberS{Value: "first"},
		}}, `{"M":{"a":{"S":"first"},"z":{"S":"last"}}}`},
		{"string set", &types.AttributeValueMemberSS{Value: []string{"x", "y"}}, `{"SS":["x","y"]}`},
		{"number set", &types.AttributeValueMemberNS{Value: []string{"1", "2"}}, `{"NS":["1","2"]}`},
		{"binary set", &types.AttributeValueMemberBS{Value: [][]byte{{0xff}}}, `{"BS":["/w=="]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonical(tt.av)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			back, err := Unmarshal([]byte(got))
			require.NoError(t, err)
			assert.Equal(t, tt.av, back)
		})
	}
}

func TestMarshalItemRoundTrip(t *testing.T) {
	item := map[string]types.AttributeValue{
		"ForumName": &types.AttributeValueMemberS{Value: "FooForum"},
		"Subject":   &types.AttributeValueMemberS{Value: "thread-1"},
	}
	data, err := MarshalItem(item)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ForumName":{"S":"FooForum"},"Subject":{"S":"thread-1"}}`, string(data))

	back, err := UnmarshalItem(data)
	require.NoError(t, err)
	assert.Equal(t, item, back)
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	for _, doc := range []string{`{}`, `{"S":"a","N":"1"}`, `{"X":"a"}`, `{"B":"not base64!"}`, `[]`} {
		_, err := Unmarshal([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestMarshalRejectsNil(t *testing.T) {
	_, err := Marshal(nil)
	assert.Error(t, err)
}
