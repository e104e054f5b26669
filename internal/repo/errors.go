package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrConflict is returned by the create-if-absent primitives when the row's
// idempotency key already exists, typically because a concurrent event won
// the race. The desired row is then known to exist and can be re-fetched.
var ErrConflict = errors.New("store conflict")

// isUniqueViolation reports a unique-constraint failure. With TranslateError
// enabled both drivers map it to gorm.ErrDuplicatedKey; the string checks
// cover glebarez/sqlite builds that surface plain-text errors.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}
