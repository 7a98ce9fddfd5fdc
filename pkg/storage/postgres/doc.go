// Package postgres opens the privileged PostgreSQL and Redis connections and
// classifies PostgreSQL errors by SQLSTATE.
package postgres
