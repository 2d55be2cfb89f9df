package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("status changed concurrently")
	ErrInvalidInput = errors.New("invalid input")
)
