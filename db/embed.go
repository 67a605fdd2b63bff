// Package db embeds the SQL schema so the server and tools can migrate a
// fresh database without shipping loose files.
package db

import _ "embed"

// Schema holds the DDL for products, carts, coupons, orders and API keys.
//
//go:embed migrations/001_schema.sql
var Schema string
