// Package db embeds the marketplace schema and the demo data set loaded by
// cmd/seed-db.
package db

import _ "embed"

// Schema creates users, products, coupons, the usage ledger and carts. Every
// statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string

// Seed is the JSON demo data set of users, products, carts and coupons.
//
//go:embed seed/marketplace.json
var Seed []byte
