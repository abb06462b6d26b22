// errors_helper.go: error handling helpers for database operations
package datastore

import (
	"fmt"

	"github.com/pictora/pictora-go/internal/errors"
)

// dbError creates a properly categorized database error with context
func dbError(err error, operation string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// validationError creates a validation error for bad store inputs
func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", fmt.Sprintf("%v", value)).
		Build()
}

// notFoundError creates a not-found error for a missing record
func notFoundError(id string) error {
	return errors.Newf("record not found: %s", id).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("id", id).
		Build()
}
