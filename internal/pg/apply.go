package pg

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeDuplicateObject = "42710"
	codeDuplicateTable  = "42P07"
	codeUniqueViolation = "23505"
)

// IgnoreDDL - объект уже существует. create ... if not exists обычно
// молчит, но гонка двух процессов даёт duplicate_object.
func (Dialect) IgnoreDDL(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeDuplicateObject || pgErr.Code == codeDuplicateTable
	}
	// подстраховка по фразе
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "already exists")
}

// IsDuplicate - нарушение unique или primary key.
func (Dialect) IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
