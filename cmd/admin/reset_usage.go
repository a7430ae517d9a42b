// Command admin zeroes daily credential usage directly in PostgreSQL,
// for when the service is down and cannot take the reset itself.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	dsn := flag.String("db", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	id := flag.String("id", "", "Reset a single credential instead of all")
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "database url required: set -db or DATABASE_URL")
		os.Exit(2)
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	// Exhausted flags are recomputed from totals when the pool loads.
	query := "UPDATE credential_usage SET used_today = 0, exhausted = FALSE, reset_at = NULL, updated_at = NOW()"
	args := []any{}
	if *id != "" {
		query += " WHERE id = $1"
		args = append(args, *id)
	}

	res, err := db.Exec(query, args...)
	if err != nil {
		panic(err)
	}
	n, _ := res.RowsAffected()
	fmt.Printf("Successfully reset daily usage for %d credential(s)\n", n)
}
