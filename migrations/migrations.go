// Package migrations esquema SQL de la base de datos.
package migrations

import "embed"

// FS archivos NNN_*.sql en orden lexicográfico.
//
//go:embed *.sql
var FS embed.FS
