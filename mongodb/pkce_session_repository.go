package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.pilab.hu/idfed/domain"
)

// PKCESessionRepositoryMongo implements domain.PKCESessionStore with a TTL
// index expiring abandoned sessions and find-one-and-delete consumption so a
// session can only be used once.
type PKCESessionRepositoryMongo struct {
	collection *mongo.Collection
}

func NewPKCESessionRepository(ctx context.Context, db *mongo.Database) (*PKCESessionRepositoryMongo, error) {
	repo := &PKCESessionRepositoryMongo{collection: db.Collection(PKCESessionsCollection)}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create %s indexes: %w", PKCESessionsCollection, err)
	}
	return repo, nil
}

func (r *PKCESessionRepositoryMongo) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "auth_group", Value: 1}, {Key: "state", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexModels)
	return err
}

func (r *PKCESessionRepositoryMongo) Save(ctx context.Context, session *domain.PKCESession) error {
	if session.ID == "" {
		session.ID = NewObjectID()
	}
	if _, err := r.collection.InsertOne(ctx, session); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicate
		}
		return err
	}
	return nil
}

// Consume returns and deletes the session in one operation. A session past
// its expiry that the TTL monitor has not swept yet is treated as absent.
func (r *PKCESessionRepositoryMongo) Consume(ctx context.Context, authGroup, state string) (*domain.PKCESession, error) {
	filter := bson.M{"auth_group": authGroup, "state": state}
	var session domain.PKCESession
	if err := r.collection.FindOneAndDelete(ctx, filter).Decode(&session); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if time.Now().UTC().After(session.ExpiresAt) {
		return nil, domain.ErrNotFound
	}
	return &session, nil
}

var _ domain.PKCESessionStore = (*PKCESessionRepositoryMongo)(nil)
