package testutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"

	mongoMigration "swimbook/internal/migrations/mongo"
	"swimbook/pkg/logger"
)

type TestEnv struct {
	MongoURI     string
	DatabaseName string
	ServerURL    string
}

func NewTestEnv() *TestEnv {
	serverPort := getEnv("TEST_SERVER_PORT", "8080")
	return &TestEnv{
		MongoURI:     getEnv("TEST_MONGO_URI", DefaultMongoURI),
		DatabaseName: getEnv("TEST_DB_NAME", DefaultDatabaseName),
		ServerURL:    getEnv("TEST_SERVER_URL", fmt.Sprintf("http://localhost:%s", serverPort)),
	}
}

// Setup migrates and empties the database the server under test uses, then
// waits for the server to report ready.
func (e *TestEnv) Setup(t *testing.T) (*MongoHelper, *Client) {
	t.Helper()

	mongo := NewMongoHelper(t, e.MongoURI, e.DatabaseName)

	ctx, cancel := context.WithTimeout(context.Background(), ConnectionTimeout)
	defer cancel()
	log := logger.New(logger.Config{Output: io.Discard})
	if err := mongoMigration.RunMigration(ctx, mongo.Client, e.DatabaseName, log); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	mongo.CleanDatabase(t)

	client := NewClient(e.ServerURL)
	client.WaitForHealthy(t, DefaultHealthCheckTimeout)

	return mongo, client
}

func (e *TestEnv) Cleanup(t *testing.T, mongo *MongoHelper) {
	t.Helper()

	if mongo != nil {
		mongo.CleanDatabase(t)
		mongo.Close(t)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

const (
	DefaultHealthCheckTimeout = 3 * ConnectionTimeout
)
