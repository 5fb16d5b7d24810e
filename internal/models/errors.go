package models

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNoRecord           = errors.New("models: no matching record found")
	ErrInvalidCredentials = errors.New("models: invalid credentials")
	ErrDuplicateEmail     = errors.New("models: duplicate email")
	ErrDuplicatePosition  = errors.New("models: position already occupied")
	ErrDuplicateName      = errors.New("models: plant name already in use")
	ErrDuplicateSpecies   = errors.New("models: species already in catalog")
)

// uniqueViolation reports whether err is a UNIQUE constraint failure on
// table.column.
func uniqueViolation(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(sqliteErr.Error(), column)
}
