package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"go.pilab.hu/idfed/domain"
)

// OrganizationRepositoryMongo implements domain.OrganizationRepository.
type OrganizationRepositoryMongo struct {
	collection *mongo.Collection
}

func NewOrganizationRepository(db *mongo.Database) *OrganizationRepositoryMongo {
	return &OrganizationRepositoryMongo{collection: db.Collection(OrganizationsCollection)}
}

func (r *OrganizationRepositoryMongo) GetByID(ctx context.Context, authGroup, id string) (*domain.Organization, error) {
	var org domain.Organization
	filter := bson.M{"_id": id, "auth_group": authGroup}
	if err := r.collection.FindOne(ctx, filter).Decode(&org); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

var _ domain.OrganizationRepository = (*OrganizationRepositoryMongo)(nil)
