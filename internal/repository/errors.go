// Package repository holds the MySQL-backed stores. Repositories translate
// sql.ErrNoRows into apperr NotFound and leave every other driver error to
// the service layer, which reports it as Unavailable.
package repository

import "errors"

// ErrEmailExists is returned by UserRepo.Create on a duplicate email.
var ErrEmailExists = errors.New("email already exists")

// mysqlDuplicateEntry is the server error number for unique key violations.
const mysqlDuplicateEntry = 1062
