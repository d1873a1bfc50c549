// seed inserts development sample data for local testing. Run via go run ./cmd/seed.
// Idempotent: skips inserts if the dev user (dev@example.com) already exists.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"auth-gateway/internal/config"
	"auth-gateway/internal/db"
	"auth-gateway/internal/security"
)

const (
	devUserEmail  = "dev@example.com"
	devPassword   = "password123"
	adminEmail    = "admin@example.com"
	devClientName = "dev-client"
	devSecret     = "dev-secret-001"
	devAPI        = "accounts"
	devAPIVersion = "v1"
	devAPIURL     = "http://localhost:9001"
)

// seedIDs are the row ids for one seed run. The id columns are UUIDs, so they
// are generated rather than fixed; the client id is printed at the end for use
// as the Basic auth username.
type seedIDs struct {
	org       string
	client    string
	devUser   string
	adminUser string
}

func newSeedIDs() seedIDs {
	return seedIDs{
		org:       uuid.NewString(),
		client:    uuid.NewString(),
		devUser:   uuid.NewString(),
		adminUser: uuid.NewString(),
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()

	var existing string
	err = conn.QueryRowContext(ctx, `SELECT email FROM emails WHERE email = $1`, devUserEmail).Scan(&existing)
	if err == nil {
		log.Println("Seed already applied (dev@example.com exists). Skipping.")
		os.Exit(0)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.Fatalf("seed check: %v", err)
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	secretHash, err := hasher.Hash([]byte(devSecret))
	if err != nil {
		log.Fatalf("hash client secret: %v", err)
	}

	now := time.Now().UTC()

	ids := newSeedIDs()
	devOrgID := ids.org
	devClientID := ids.client
	devUserID := ids.devUser
	adminUserID := ids.adminUser

	exec := func(what, query string, args ...any) {
		if _, err := conn.ExecContext(ctx, query, args...); err != nil {
			log.Fatalf("%s: %v", what, err)
		}
	}

	exec("create org",
		`INSERT INTO organizations (id, name, created_at) VALUES ($1, $2, $3)`,
		devOrgID, "Acme Dev", now)

	exec("create client",
		`INSERT INTO clients (id, name, secret_bcrypt, organization_id, reqs_per_sec, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		devClientID, devClientName, secretHash, devOrgID, 50, now)
	exec("grant client role",
		`INSERT INTO client_roles (client_id, role_id) VALUES ($1, $2)`,
		devClientID, "internal")

	exec("create dev user",
		`INSERT INTO users (id, name, password_bcrypt, created_at) VALUES ($1, $2, $3, $4)`,
		devUserID, "Dev User", passwordHash, now)
	exec("create dev email",
		`INSERT INTO emails (email, user_id, verified_at, created_at) VALUES ($1, $2, $3, $4)`,
		devUserEmail, devUserID, now, now)

	exec("create admin user",
		`INSERT INTO users (id, name, password_bcrypt, created_at) VALUES ($1, $2, $3, $4)`,
		adminUserID, "Admin User", passwordHash, now)
	exec("create admin email",
		`INSERT INTO emails (email, user_id, verified_at, created_at) VALUES ($1, $2, $3, $4)`,
		adminEmail, adminUserID, now, now)
	exec("grant admin role",
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`,
		adminUserID, "sysadmin")

	exec("create api",
		`INSERT INTO apis (domain, version, url, allow_unidentified, active, deprecated, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		devAPI, devAPIVersion, devAPIURL, true, true, false, now)

	log.Println("Seed completed successfully.")
	fmt.Printf("Dev login: %s / %s\n", devUserEmail, devPassword)
	fmt.Printf("Admin login: %s / %s\n", adminEmail, devPassword)
	fmt.Printf("Client credentials: %s / %s\n", devClientID, devSecret)
	fmt.Printf("Seeded API: /%s/%s -> %s\n", devAPI, devAPIVersion, devAPIURL)
}
