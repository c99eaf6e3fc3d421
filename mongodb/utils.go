package mongodb

import "go.mongodb.org/mongo-driver/v2/bson"

// NewObjectID returns a new hex object id for documents created by the
// broker.
func NewObjectID() string {
	return bson.NewObjectID().Hex()
}
