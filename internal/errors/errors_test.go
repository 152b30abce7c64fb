package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestAPIErrorImplementsError(t *testing.T) {
	err := NewValidationError("window index out of range")
	assert.Equal(t, "window index out of range", err.Error())
	assert.Equal(t, ErrValidation.Code, err.Code)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)

	// The predefined value must not be mutated by the copy
	assert.Equal(t, "Validation failed", ErrValidation.Message)
}

func TestParseDBErrorNil(t *testing.T) {
	assert.Nil(t, ParseDBError(nil))
}

func TestParseDBErrorRecordNotFound(t *testing.T) {
	assert.Equal(t, ErrResourceNotFound, ParseDBError(gorm.ErrRecordNotFound))
}

func TestParseDBErrorPostgresDuplicate(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
	assert.Equal(t, ErrDuplicateResource, ParseDBError(pgErr))
	assert.True(t, IsDuplicate(pgErr))

	other := &pgconn.PgError{Code: "23503"}
	assert.Equal(t, ErrDatabase, ParseDBError(other))
	assert.False(t, IsDuplicate(other))
}

func TestParseDBErrorMySQLDuplicate(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	assert.Equal(t, ErrDuplicateResource, ParseDBError(dup))
	assert.True(t, IsDuplicate(dup))

	other := &mysql.MySQLError{Number: 1045}
	assert.Equal(t, ErrDatabase, ParseDBError(other))
}

func TestParseDBErrorSQLiteDuplicate(t *testing.T) {
	err := errors.New("UNIQUE constraint failed: dispatch_records.recipient")
	assert.Equal(t, ErrDuplicateResource, ParseDBError(err))
	assert.True(t, IsDuplicate(err))
}

func TestParseDBErrorUnknownFallsBack(t *testing.T) {
	assert.Equal(t, ErrDatabase, ParseDBError(errors.New("disk I/O error")))
	assert.False(t, IsDuplicate(errors.New("disk I/O error")))
}
