package catalog

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
)

// MaxIdentifierLength is PostgreSQL's NAMEDATALEN - 1.
const MaxIdentifierLength = 63

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrInvalidIdentifier is returned when a name fails the identifier allow-list.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// ValidIdentifier reports whether name may be interpolated into SQL as an
// identifier. Table names derived from archive entries use the same check.
func ValidIdentifier(name string) bool {
	return len(name) <= MaxIdentifierLength && identifierPattern.MatchString(name)
}

// QuoteIdent validates name and returns it as a quoted SQL identifier.
func QuoteIdent(name string) (string, error) {
	if !ValidIdentifier(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// QuoteQualified validates both parts and returns "schema"."name".
func QuoteQualified(schema, name string) (string, error) {
	if !ValidIdentifier(schema) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, schema)
	}
	if !ValidIdentifier(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return pgx.Identifier{schema, name}.Sanitize(), nil
}

// QuoteIdents quotes every name, failing on the first invalid one.
func QuoteIdents(names []string) ([]string, error) {
	quoted := make([]string, len(names))
	for i, name := range names {
		q, err := QuoteIdent(name)
		if err != nil {
			return nil, err
		}
		quoted[i] = q
	}
	return quoted, nil
}
