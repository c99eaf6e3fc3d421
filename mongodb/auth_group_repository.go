package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"go.pilab.hu/idfed/domain"
)

// AuthGroupRepositoryMongo implements domain.AuthGroupRepository. Tenant
// records are administered elsewhere; the broker only reads them.
type AuthGroupRepositoryMongo struct {
	collection *mongo.Collection
}

func NewAuthGroupRepository(db *mongo.Database) *AuthGroupRepositoryMongo {
	return &AuthGroupRepositoryMongo{collection: db.Collection(AuthGroupsCollection)}
}

func (r *AuthGroupRepositoryMongo) GetByID(ctx context.Context, id string) (*domain.AuthGroup, error) {
	var group domain.AuthGroup
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&group); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &group, nil
}

var _ domain.AuthGroupRepository = (*AuthGroupRepositoryMongo)(nil)
