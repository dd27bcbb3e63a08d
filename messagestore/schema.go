package messagestore

import _ "embed"

// Schema creates the inbox tables on Postgres. It is idempotent.
//
//go:embed schema.sql
var Schema string

// SchemaSQLite is Schema for SQLite.
//
//go:embed schema_sqlite.sql
var SchemaSQLite string
