// Package sqlinline holds the SQL statements used by the Postgres repositories.
// Every statement opens with a unique --sql <uuid> marker.
package sqlinline

//go:generate go run ../tools/sqllint .
