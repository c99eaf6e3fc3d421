package mongodb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.pilab.hu/idfed/domain"
)

// AccountRepositoryMongo implements domain.AccountRepository.
type AccountRepositoryMongo struct {
	collection *mongo.Collection
}

func NewAccountRepository(ctx context.Context, db *mongo.Database) (*AccountRepositoryMongo, error) {
	repo := &AccountRepositoryMongo{collection: db.Collection(AccountsCollection)}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create %s indexes: %w", AccountsCollection, err)
	}
	return repo, nil
}

func (r *AccountRepositoryMongo) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			// The linker's critical section: concurrent federations
			// for the same person must not create two accounts.
			Keys:    bson.D{{Key: "auth_group", Value: 1}, {Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "auth_group", Value: 1}, {Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "auth_group", Value: 1},
				{Key: "identities.provider", Value: 1},
				{Key: "identities.id", Value: 1},
			},
		},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexModels)
	return err
}

// FindByEmailOrUsername matches either field case-insensitively within one
// auth group.
func (r *AccountRepositoryMongo) FindByEmailOrUsername(ctx context.Context, authGroup, value string) (*domain.Account, error) {
	lowered := strings.ToLower(value)
	filter := bson.M{
		"auth_group": authGroup,
		"$or": bson.A{
			bson.M{"email": lowered},
			bson.M{"username": lowered},
		},
	}
	var account domain.Account
	if err := r.collection.FindOne(ctx, filter).Decode(&account); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepositoryMongo) Create(ctx context.Context, account *domain.Account) error {
	if account.ID == "" {
		account.ID = NewObjectID()
	}
	account.Email = strings.ToLower(account.Email)
	account.Username = strings.ToLower(account.Username)
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, account); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicate
		}
		log.Ctx(ctx).Error().Err(err).Str("auth_group", account.AuthGroup).Msg("error creating account")
		return err
	}
	return nil
}

func (r *AccountRepositoryMongo) Update(ctx context.Context, account *domain.Account) error {
	account.UpdatedAt = time.Now().UTC()
	filter := bson.M{"_id": account.ID, "auth_group": account.AuthGroup}
	res, err := r.collection.ReplaceOne(ctx, filter, account)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.AccountRepository = (*AccountRepositoryMongo)(nil)
