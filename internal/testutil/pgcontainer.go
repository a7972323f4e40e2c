//go:build integration

package testutil

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGDatabase is a temporary PostgreSQL database created for one test binary.
type PGDatabase struct {
	URL     string
	Name    string
	baseURL string
}

// Cleanup drops the temporary database.
func (pg *PGDatabase) Cleanup() {
	ctx := context.Background()
	admin, err := pgxpool.New(ctx, pg.baseURL)
	if err != nil {
		return
	}
	defer admin.Close()
	_, _ = admin.Exec(ctx, "DROP DATABASE IF EXISTS "+pg.Name+" WITH (FORCE)")
}

// CreatePostgresForTestMain connects to TEST_DATABASE_URL and creates a
// temporary database for isolation. Panics on failure since TestMain has no
// *testing.T.
func CreatePostgresForTestMain(ctx context.Context) (*PGDatabase, func()) {
	baseURL := os.Getenv("TEST_DATABASE_URL")
	if baseURL == "" {
		panic("TEST_DATABASE_URL is not set. Use `make test-integration` or set it manually.")
	}

	name := fmt.Sprintf("seedcache_%d", time.Now().UnixNano())

	admin, err := pgxpool.New(ctx, baseURL)
	if err != nil {
		panic(fmt.Sprintf("connecting to TEST_DATABASE_URL: %v", err))
	}
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+name); err != nil {
		admin.Close()
		panic(fmt.Sprintf("creating temp database %s: %v", name, err))
	}
	admin.Close()

	tempURL, err := replaceDBInURL(baseURL, name)
	if err != nil {
		panic(fmt.Sprintf("building temp database URL: %v", err))
	}

	pg := &PGDatabase{URL: tempURL, Name: name, baseURL: baseURL}
	return pg, pg.Cleanup
}

func replaceDBInURL(connStr, newDB string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", err
	}
	u.Path = "/" + newDB
	return u.String(), nil
}
