// The migrate binary applies the bridge DDL. With --with-sources it also
// creates dev copies of the source tables the bridge normally only reads.
// --list prints every bridge table with its presence in the database.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sort"

	_ "github.com/lib/pq"

	"github.com/northcell/conversation-cdc/internal/config"
	"github.com/northcell/conversation-cdc/internal/schema"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database.url (or DATABASE_URL) is required")
	}

	listOnly := false
	withSources := false
	for _, a := range os.Args[1:] {
		switch a {
		case "--list":
			listOnly = true
		case "--with-sources":
			withSources = true
		default:
			log.Fatalf("unknown flag %q (expected --list or --with-sources)", a)
		}
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	ctx := context.Background()

	if listOnly {
		listTables(ctx, db)
		return
	}

	if err := schema.Ensure(ctx, db); err != nil {
		log.Fatalf("apply bridge DDL: %v", err)
	}
	log.Printf("Bridge tables ready (%d)", len(schema.Tables))

	if withSources {
		if err := schema.CreateSources(ctx, db); err != nil {
			log.Fatalf("apply source DDL: %v", err)
		}
		log.Printf("Dev source tables ready (%d)", len(schema.SourceTables))
	}
}

func listTables(ctx context.Context, db *sql.DB) {
	missing, err := schema.Validate(ctx, db)
	if err != nil {
		log.Fatalf("validate: %v", err)
	}
	absent := make(map[string]bool, len(missing))
	for _, name := range missing {
		absent[name] = true
	}

	names := make([]string, 0, len(schema.Tables))
	for name := range schema.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		state := "ok"
		if absent[name] {
			state = "MISSING"
		}
		fmt.Printf("  %-32s %s\n", name, state)
	}
	fmt.Printf("Total: %d tables, %d missing\n", len(names), len(missing))
}
