package discover

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// System databases excluded from discovery results.
var mongoReservedNames = map[string]bool{
	"local":  true,
	"admin":  true,
	"config": true,
}

// fetchMongoDatabases enumerates databases via the administrative
// listDatabases command, excluding the system-reserved names.
func fetchMongoDatabases(ctx context.Context, connString string) ([]string, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(connString))
	if err != nil {
		return nil, fmt.Errorf("discover: mongodb connect: %w", err)
	}
	defer client.Disconnect(ctx) //nolint:errcheck

	all, err := client.ListDatabaseNames(ctx, bson.M{})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(all))
	for _, name := range all {
		if mongoReservedNames[name] {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// fetchMongoCollections enumerates the collections of the database named in
// the connection string path. MongoDB has no schemas, so collections stand
// in for the schema metadata kind.
func fetchMongoCollections(ctx context.Context, connString string) ([]string, error) {
	dbName := databaseFromURI(connString)
	if dbName == "" {
		return nil, fmt.Errorf("discover: connection string has no database name")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(connString))
	if err != nil {
		return nil, fmt.Errorf("discover: mongodb connect: %w", err)
	}
	defer client.Disconnect(ctx) //nolint:errcheck

	return client.Database(dbName).ListCollectionNames(ctx, bson.M{})
}

// databaseFromURI extracts the database name from a mongodb:// URI path.
func databaseFromURI(connString string) string {
	u, err := url.Parse(connString)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}
