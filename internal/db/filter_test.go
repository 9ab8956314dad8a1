package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestFilterBuilder(t *testing.T) {
	t.Run("chained conditions", func(t *testing.T) {
		filter := NewFilter().
			Eq("receiver_id", "user-1").
			Eq("read", false).
			Gt("seq", int64(5)).
			Build()

		assert.Equal(t, bson.M{
			"receiver_id": "user-1",
			"read":        false,
			"seq":         bson.M{"$gt": int64(5)},
		}, filter)
	})

	t.Run("object id", func(t *testing.T) {
		id := primitive.NewObjectID()
		filter := NewFilter().ObjectID("conversation_id", id.Hex()).Build()
		assert.Equal(t, id, filter["conversation_id"])
	})

	t.Run("invalid object id is skipped", func(t *testing.T) {
		filter := NewFilter().ObjectID("conversation_id", "nope").Build()
		_, present := filter["conversation_id"]
		assert.False(t, present)
	})

	t.Run("or", func(t *testing.T) {
		filter := NewFilter().Or(
			bson.M{"buyer_id": "user-1"},
			bson.M{"seller_id": "user-1"},
		).Build()
		assert.Len(t, filter["$or"], 2)
	})

	t.Run("ne exists in lte", func(t *testing.T) {
		filter := NewFilter().
			Ne("kind", "system").
			Exists("offer", true).
			Lte("seq", int64(10)).
			Build()

		assert.Equal(t, bson.M{"$ne": "system"}, filter["kind"])
		assert.Equal(t, bson.M{"$exists": true}, filter["offer"])
		assert.Equal(t, bson.M{"$lte": int64(10)}, filter["seq"])
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, bson.M{}, Empty())
	})
}
