package catalog

import "errors"

// Catalog error types
var (
	ErrGraphNotFound  = errors.New("property graph not found")
	ErrGraphExists    = errors.New("property graph already exists")
	ErrInvalidGraph   = errors.New("invalid property graph")
	ErrTableNotFound  = errors.New("table not found")
	ErrColumnNotFound = errors.New("column not found")
	ErrLabelNotFound  = errors.New("label not found")
	ErrCatalogClosed  = errors.New("catalog closed")
)
