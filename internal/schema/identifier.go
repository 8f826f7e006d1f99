package schema

import (
	"fmt"
	"unicode"

	merrors "github.com/moisturizer/moisturizer/internal/errors"
)

const (
	maxTypeIDLength    = 63
	maxFieldNameLength = 128
)

// ValidateTypeID checks that id can name a type and its table: a lowercase
// letter followed by lowercase letters, digits or underscores.
func ValidateTypeID(id string) error {
	if !validTypeID(id) {
		return merrors.NewValidationError(merrors.CodeInvalidTypeID,
			fmt.Sprintf("invalid type id %q: must match [a-z][a-z0-9_]{0,%d}", id, maxTypeIDLength-1)).
			WithDetails(map[string]interface{}{"type_id": id})
	}
	return nil
}

func validTypeID(id string) bool {
	if len(id) == 0 || len(id) > maxTypeIDLength {
		return false
	}
	if first := id[0]; first < 'a' || first > 'z' {
		return false
	}
	for i := 1; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}

// ValidateFieldName checks a field name. Any printable name is allowed since
// backends quote identifiers.
func ValidateFieldName(name string) error {
	if len(name) == 0 || len(name) > maxFieldNameLength {
		return merrors.NewValidationError(merrors.CodeInvalidField,
			fmt.Sprintf("invalid field name %q: length must be 1-%d", name, maxFieldNameLength))
	}
	for _, r := range name {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
			return merrors.NewValidationError(merrors.CodeInvalidField,
				fmt.Sprintf("invalid field name %q: non-printable character", name))
		}
	}
	return nil
}
