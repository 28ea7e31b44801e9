package model_test

import (
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/dynamodel/internal/expr"
	"github.com/pay-theory/dynamodel/pkg/attr"
	"github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/expression"
	"github.com/pay-theory/dynamodel/pkg/model"
)

func threadDef() model.SchemaDef {
	return model.SchemaDef{
		Table: "Thread",
		Attributes: []model.AttributeDef{
			model.HashKey("ForumName", attr.TypeString),
			model.RangeKey("Subject", attr.TypeString),
			model.Field("Views", attr.TypeNumber),
			model.Field("Tags", attr.TypeStringSet),
			model.Field("LastPostedAt", attr.TypeDateTime),
			model.Field("Body", attr.TypeString).Require(),
			model.Field("Secret", attr.TypeString).Encrypt(),
			model.VersionField("version"),
		},
		Indexes: []model.IndexDef{
			{Name: "views-index", Type: model.GlobalSecondaryIndex, HashKey: "Views"},
			{Name: "last-post-index", Type: model.LocalSecondaryIndex, HashKey: "ForumName", RangeKey: "LastPostedAt", ProjectionType: "KEYS_ONLY"},
		},
	}
}

func TestRegisterSchema(t *testing.T) {
	registry := model.NewRegistry()

	schema, err := registry.Register(threadDef())
	require.NoError(t, err)

	assert.Equal(t, "Thread", schema.Table())
	assert.Equal(t, "ForumName", schema.HashKey().Name())
	assert.Equal(t, "Subject", schema.RangeKey().Name())
	assert.Equal(t, "version", schema.Version().Name())
	assert.Len(t, schema.Attributes(), 8)
	assert.True(t, schema.MustAttr("Secret").Encrypted())
	assert.True(t, schema.MustAttr("Body").Required())

	indexes := schema.Indexes()
	require.Len(t, indexes, 2)
	assert.Equal(t, "ALL", indexes[0].ProjectionType)
	assert.Nil(t, indexes[0].RangeKey)
	assert.Equal(t, "LastPostedAt", indexes[1].RangeKey.Name())

	again, err := registry.Register(threadDef())
	require.NoError(t, err)
	assert.Same(t, schema, again)

	found, err := registry.Lookup("Thread")
	require.NoError(t, err)
	assert.Same(t, schema, found)

	_, err = registry.Lookup("Missing")
	assert.ErrorIs(t, err, errors.ErrTableNotRegistered)
	assert.Equal(t, []string{"Thread"}, registry.Tables())
}

func TestInvalidSchemas(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.SchemaDef)
	}{
		{"bad table name", func(d *model.SchemaDef) { d.Table = "x" }},
		{"no attributes", func(d *model.SchemaDef) { d.Attributes = nil }},
		{"no hash key", func(d *model.SchemaDef) { d.Attributes = d.Attributes[1:] }},
		{"duplicate attribute", func(d *model.SchemaDef) {
			d.Attributes = append(d.Attributes, model.Field("Views", attr.TypeString))
		}},
		{"two hash keys", func(d *model.SchemaDef) {
			d.Attributes = append(d.Attributes, model.HashKey("Other", attr.TypeString))
		}},
		{"list hash key", func(d *model.SchemaDef) { d.Attributes[0].Type = attr.TypeList }},
		{"encrypted key", func(d *model.SchemaDef) { d.Attributes[1] = d.Attributes[1].Encrypt() }},
		{"unknown type", func(d *model.SchemaDef) { d.Attributes[2].Type = "DECIMAL" }},
		{"version not a version type", func(d *model.SchemaDef) {
			d.Attributes[7] = model.AttributeDef{Name: "version", Type: attr.TypeNumber, Role: model.RoleVersion}
		}},
		{"index on undeclared attribute", func(d *model.SchemaDef) { d.Indexes[0].HashKey = "Nope" }},
		{"index on set attribute", func(d *model.SchemaDef) { d.Indexes[0].HashKey = "Tags" }},
		{"local index with foreign hash", func(d *model.SchemaDef) { d.Indexes[1].HashKey = "Views" }},
		{"bad projection", func(d *model.SchemaDef) { d.Indexes[0].ProjectionType = "SOME" }},
		{"duplicate index", func(d *model.SchemaDef) { d.Indexes[1].Name = d.Indexes[0].Name }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := threadDef()
			tt.mutate(&def)
			_, err := model.NewRegistry().Register(def)
			assert.ErrorIs(t, err, errors.ErrInvalidSchema)
		})
	}
}

func TestKeyNames(t *testing.T) {
	schema, err := model.NewSchema(threadDef())
	require.NoError(t, err)

	h, r, err := schema.KeyNames("")
	require.NoError(t, err)
	assert.Equal(t, []string{"ForumName", "Subject"}, []string{h, r})

	h, r, err = schema.KeyNames("views-index")
	require.NoError(t, err)
	assert.Equal(t, []string{"Views", ""}, []string{h, r})

	_, _, err = schema.KeyNames("nope")
	assert.ErrorIs(t, err, errors.ErrInvalidSchema)
}

func TestConcurrentRegistration(t *testing.T) {
	registry := model.NewRegistry()
	var wg sync.WaitGroup
	schemas := make([]*model.Schema, 8)
	for i := range schemas {
		wg.Go(func() {
			s, err := registry.Register(threadDef())
			assert.NoError(t, err)
			schemas[i] = s
		})
	}
	wg.Wait()
	for _, s := range schemas[1:] {
		assert.Same(t, schemas[0], s)
	}
}

func TestTypedAttributeBuilders(t *testing.T) {
	schema, err := model.NewSchema(threadDef())
	require.NoError(t, err)

	views := schema.MustAttr("Views")
	tags := schema.MustAttr("Tags")
	posted := schema.MustAttr("LastPostedAt")

	comps, err := expr.CompileUpdate(views.Gt(10), views.Increment(1), tags.Delete(attr.StringSet{"old"}))
	require.NoError(t, err)
	assert.Equal(t, "#0 > :0", comps.ConditionExpression)
	assert.Equal(t, "SET #0 = #0 + :1 DELETE #1 :2", comps.UpdateExpression)

	comps, err = expr.CompileCondition(tags.Contains("go"))
	require.NoError(t, err)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "go"}, comps.ExpressionAttributeValues[":0"])

	when := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	comps, err = expr.CompileCondition(posted.Lt(when))
	require.NoError(t, err)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "2024-03-09T14:05:06.000000+0000"}, comps.ExpressionAttributeValues[":0"])

	_, err = expr.CompileCondition(views.Eq("not a number"))
	var se *errors.SerializationError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Views", se.Attribute)

	assert.Panics(t, func() { schema.MustAttr("Nope") })
}

func TestCheckQueryable(t *testing.T) {
	s, err := model.NewSchema(threadDef())
	require.NoError(t, err)
	secret := s.MustAttr("Secret")
	views := s.MustAttr("Views")

	tests := []struct {
		name    string
		cond    expression.Condition
		wantErr bool
	}{
		{name: "nil", cond: nil},
		{name: "plain attributes", cond: expression.And(views.Gt(3), s.MustAttr("Body").BeginsWith("hi"))},
		{name: "undeclared attribute", cond: expression.Name("Extra").Exists()},
		{name: "comparison", cond: secret.Eq("x"), wantErr: true},
		{name: "nested in or", cond: expression.Or(views.Eq(1), expression.Not(secret.Exists())), wantErr: true},
		{name: "between bound", cond: views.Between(secret, 10), wantErr: true},
		{name: "in candidate", cond: views.In(1, secret), wantErr: true},
		{name: "size", cond: secret.Size().Gt(4), wantErr: true},
		{name: "nested path", cond: expression.Name("Secret").Field("inner").Eq("x"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CheckQueryable(tt.cond)
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrEncryptedFieldNotQueryable)
				return
			}
			assert.NoError(t, err)
		})
	}
}
