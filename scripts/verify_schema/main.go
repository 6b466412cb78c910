// verify_schema checks that a scalp-core database carries every table the
// service writes to.
//
// Usage:
//
//	go run ./scripts/verify_schema [path/to/scalp.db]
package main

import (
	"context"
	"fmt"
	"os"

	"scalp-core/pkg/db"
)

var tables = []string{"trades", "daily_stats", "trade_log", "orders", "positions"}

func main() {
	path := "./data/scalp.db"
	if len(os.Args) > 1 {
		path = os.Args[1]
	} else if v := os.Getenv("DB_PATH"); v != "" {
		path = v
	}
	fmt.Printf("Verifying database at: %s\n", path)

	database, err := db.New(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	ctx := context.Background()
	missing := 0
	for _, name := range tables {
		var found string
		err := database.DB.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&found)
		if err != nil {
			fmt.Printf("  MISSING %s\n", name)
			missing++
			continue
		}
		var rows int
		_ = database.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+name).Scan(&rows)
		fmt.Printf("  ok      %-12s %d rows\n", name, rows)
	}

	var mode string
	if err := database.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err == nil {
		fmt.Printf("journal_mode=%s\n", mode)
	}
	if missing > 0 {
		fmt.Printf("%d table(s) missing; start the service once to apply migrations\n", missing)
		os.Exit(1)
	}
}
