package repositories

import "github.com/jackc/pgx/v5/pgconn"

var pgconnError = pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}

func stringPtr(s string) *string {
	return &s
}
