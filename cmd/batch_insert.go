package main

import (
	"context"
	"fmt"
	"log"
	"os"

	bendload "github.com/databendcloud/bendload"
)

// getDSN constructs a DSN based on the test connection parameters
func getDSN() string {
	dsn := os.Getenv("DATABEND_DSN")
	if dsn == "" {
		log.Fatal("DATABEND_DSN environment variable is not set.")
	}
	return dsn
}

func main() {
	cfg, err := bendload.ParseDSN(getDSN())
	if err != nil {
		log.Fatalf("failed to parse DSN, err: %v", err)
	}
	client := bendload.NewAPIClientFromConfig(cfg)
	ctx := context.Background()

	if _, err := client.QuerySync(ctx, "CREATE TABLE IF NOT EXISTS books (title String, author String, year Int64)"); err != nil {
		log.Fatalf("failed to create table, err: %v", err)
	}

	batch := client.PrepareBatch("INSERT INTO books VALUES (?, ?, ?)")
	rows := [][]interface{}{
		{"mybook", "author", int64(2021)},
		{"mybook2", "author2", int64(2022)},
	}
	for _, row := range rows {
		if err := batch.Bind(row...); err != nil {
			log.Fatalf("failed to bind row, err: %v", err)
		}
		if err := batch.AddRow(); err != nil {
			log.Fatalf("failed to add row, err: %v", err)
		}
	}

	counts, err := batch.ExecuteBatch(ctx)
	if err != nil {
		log.Fatalf("failed to execute batch, err: %v", err)
	}
	fmt.Printf("inserted %d rows\n", len(counts))
}
