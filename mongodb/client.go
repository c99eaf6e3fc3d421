// Package mongodb implements the broker's repositories over a MongoDB
// document store, one repository per collection.
package mongodb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/v2/mongo/otelmongo"
)

const (
	AccountsCollection      = "accounts"
	AuthGroupsCollection    = "auth_groups"
	OrganizationsCollection = "organizations"
	PKCESessionsCollection  = "federation_pkce_sessions"
)

var (
	clientInstance *mongo.Client
	clientOnce     sync.Once
	dbInstance     *mongo.Database
)

// Init connects the process-wide MongoDB client and selects the database.
// Call once at startup.
func Init(ctx context.Context, uri, dbName string) error {
	var err error
	clientOnce.Do(func() {
		opts := options.Client().
			ApplyURI(uri).
			SetConnectTimeout(10 * time.Second).
			SetMonitor(otelmongo.NewMonitor())

		client, connErr := mongo.Connect(opts)
		if connErr != nil {
			err = connErr
			return
		}
		if pingErr := client.Ping(ctx, readpref.Primary()); pingErr != nil {
			err = pingErr
			return
		}
		clientInstance = client
		dbInstance = client.Database(dbName)
		log.Info().Str("db", dbName).Msg("mongodb connected")
	})
	if err != nil {
		return err
	}
	if dbInstance == nil {
		return errors.New("mongodb not initialized")
	}
	return nil
}

// DB returns the selected database. Init must have succeeded first.
func DB() *mongo.Database {
	if dbInstance == nil {
		log.Fatal().Msg("mongodb not initialized; call Init first")
	}
	return dbInstance
}

// Ping verifies the connection, for health checks.
func Ping(ctx context.Context) error {
	if clientInstance == nil {
		return errors.New("mongodb not initialized")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return clientInstance.Ping(pingCtx, readpref.Primary())
}

// Close disconnects the client on shutdown.
func Close(ctx context.Context) {
	if clientInstance != nil {
		if err := clientInstance.Disconnect(ctx); err != nil {
			log.Error().Err(err).Msg("error closing mongodb connection")
		}
	}
}

