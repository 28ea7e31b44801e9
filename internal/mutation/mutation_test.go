package mutation_test

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/dynamodel/internal/mutation"
	"github.com/pay-theory/dynamodel/pkg/attr"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/expression"
	"github.com/pay-theory/dynamodel/pkg/model"
)

func forum(t *testing.T) *model.Schema {
	t.Helper()
	s, err := model.NewSchema(model.SchemaDef{
		Table: "Forum",
		Attributes: []model.AttributeDef{
			model.HashKey("Name", attr.TypeString),
			model.Field("Threads", attr.TypeNumber),
			model.Field("Secret", attr.TypeString).Encrypt(),
			model.VersionField("version"),
		},
	})
	require.NoError(t, err)
	return s
}

func newForum(t *testing.T, s *model.Schema) *model.Item {
	t.Helper()
	it, err := model.NewItemWithKey(s, "Amazon DynamoDB", nil)
	require.NoError(t, err)
	require.NoError(t, it.Set("Threads", 3))
	return it
}

func TestSaveNewItem(t *testing.T) {
	s := forum(t)
	it := newForum(t, s)

	r, err := mutation.Save(it, s.MustAttr("Threads").Lt(10))
	require.NoError(t, err)

	assert.Equal(t, mutation.KindPut, r.Kind)
	assert.Equal(t, "Forum", r.Table)
	assert.Equal(t, "(attribute_not_exists (#0) AND #1 < :0)", r.Comps.ConditionExpression)
	assert.Equal(t, map[string]string{"#0": "version", "#1": "Threads"}, r.Comps.ExpressionAttributeNames)
	assert.Equal(t, &types.AttributeValueMemberN{Value: "1"}, r.Image["version"])
	assert.Equal(t, &types.AttributeValueMemberN{Value: "3"}, r.Image["Threads"])

	_, ok := it.Version()
	assert.False(t, ok, "compiling does not touch the item")
	r.Applied()
	v, _ := it.Version()
	assert.EqualValues(t, 1, v)
}

func TestUpdateExistingItem(t *testing.T) {
	s := forum(t)
	it := newForum(t, s)
	it.SetVersion(4)

	r, err := mutation.Update(it, []expression.Action{s.MustAttr("Threads").Increment(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, "#0 = :0", r.Comps.ConditionExpression)
	assert.Equal(t, "SET #1 = #1 + :1 ADD #0 :1", r.Comps.UpdateExpression)
	assert.Equal(t, map[string]types.AttributeValue{
		":0": &types.AttributeValueMemberN{Value: "4"},
		":1": &types.AttributeValueMemberN{Value: "1"},
	}, r.Comps.ExpressionAttributeValues)
	assert.Equal(t, map[string]types.AttributeValue{"Name": &types.AttributeValueMemberS{Value: "Amazon DynamoDB"}}, r.Key)
	assert.Nil(t, r.Image)

	r.Applied()
	v, _ := it.Version()
	assert.EqualValues(t, 5, v)
}

func TestUpdateRejectsManagedAttributes(t *testing.T) {
	s := forum(t)
	it := newForum(t, s)

	tests := []struct {
		name    string
		actions []expression.Action
	}{
		{"no actions", nil},
		{"key", []expression.Action{s.MustAttr("Name").Set("other")}},
		{"version", []expression.Action{s.MustAttr("version").Add(1)}},
		{"encrypted", []expression.Action{s.MustAttr("Secret").Set("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mutation.Update(it, tt.actions, nil)
			require.Error(t, err)
			assert.True(t, customerrors.IsCompilation(err))
		})
	}
}

func TestDeleteAndCheck(t *testing.T) {
	s := forum(t)
	it := newForum(t, s)
	it.SetVersion(2)

	r, err := mutation.Delete(it, nil)
	require.NoError(t, err)
	assert.Equal(t, "#0 = :0", r.Comps.ConditionExpression)
	r.Applied()
	assert.True(t, it.Deleted())
	v, _ := it.Version()
	assert.EqualValues(t, 2, v)

	key, err := s.Key("Amazon DynamoDB", nil)
	require.NoError(t, err)
	check, err := mutation.Check(s, key, s.MustAttr("Threads").Exists())
	require.NoError(t, err)
	assert.Equal(t, "attribute_exists (#0)", check.Comps.ConditionExpression)
	assert.Equal(t, r.KeyID, check.KeyID, "the same key has the same identity")
	check.Applied()

	_, err = mutation.Check(s, key, nil)
	assert.True(t, customerrors.IsCompilation(err))
}

func TestMissingKey(t *testing.T) {
	s := forum(t)
	_, err := mutation.Save(model.NewItem(s), nil)
	assert.ErrorIs(t, err, customerrors.ErrMissingKey)
}

func TestConditionsOnEncryptedAttributes(t *testing.T) {
	s := forum(t)
	it := newForum(t, s)
	secret := s.MustAttr("Secret")
	key, err := s.Key("Amazon DynamoDB", nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		build func() error
	}{
		{"save", func() error {
			_, err := mutation.Save(it, secret.NotExists())
			return err
		}},
		{"update", func() error {
			_, err := mutation.Update(it, []expression.Action{s.MustAttr("Threads").Add(1)}, secret.Eq("x"))
			return err
		}},
		{"delete", func() error {
			_, err := mutation.Delete(it, expression.Or(s.MustAttr("Threads").Gt(1), secret.Exists()))
			return err
		}},
		{"check", func() error {
			_, err := mutation.Check(s, key, secret.BeginsWith("x"))
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.build(), customerrors.ErrEncryptedFieldNotQueryable)
		})
	}
}
