package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Demo rows for the CLI and bench-runner; ids are stable so scenarios can
// reference them.
const (
	SeedCustomerID = "e2a5a3c8-0001-4f7e-9b2a-6f3f6d2c1a01"
	SeedProductAID = "e2a5a3c8-0002-4f7e-9b2a-6f3f6d2c1a02"
	SeedProductBID = "e2a5a3c8-0003-4f7e-9b2a-6f3f6d2c1a03"
)

func main() {
	dir := flag.String("dir", "up", "migration direction: up|down")
	path := flag.String("path", "migrations", "path to migration files")
	seed := flag.Bool("seed", false, "insert demo customer/products after up")
	flag.Parse()

	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		log.Fatal("DATABASE_URL is required")
	}

	m, err := migrate.New("file://"+*path, pgxURL(db))
	if err != nil {
		log.Fatalf("migrate init error: %v", err)
	}
	defer m.Close()

	switch *dir {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		log.Fatalf("unknown direction %q", *dir)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migrate %s error: %v", *dir, err)
	}
	log.Printf("migrate %s done", *dir)

	if *seed && *dir == "up" {
		if err := seedDemo(db); err != nil {
			log.Fatalf("seed error: %v", err)
		}
		log.Print("seed done")
	}
}

// pgxURL rewrites a postgres:// URL to the scheme the migrate pgx/v5 driver
// registers.
func pgxURL(db string) string {
	if strings.HasPrefix(db, "postgresql://") {
		return "pgx5://" + strings.TrimPrefix(db, "postgresql://")
	}
	if strings.HasPrefix(db, "postgres://") {
		return "pgx5://" + strings.TrimPrefix(db, "postgres://")
	}
	return db
}

func seedDemo(db string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, db)
	if err != nil {
		return err
	}
	defer pool.Close()

	_, err = pool.Exec(ctx, `INSERT INTO customers(id, name, email)
		VALUES ($1, 'Demo Customer', 'demo@example.com') ON CONFLICT (id) DO NOTHING`, SeedCustomerID)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `INSERT INTO products(id, name, price, quantity) VALUES
		($1, 'Keyboard', 10000, 100),
		($2, 'Mouse', 5000, 100)
		ON CONFLICT (id) DO NOTHING`, SeedProductAID, SeedProductBID)
	return err
}
