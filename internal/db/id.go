package db

import (
	"fmt"

	"github.com/google/uuid"
)

func newID() string {
	return uuid.NewString()
}

// canonicalID validates id and returns its canonical lowercase form.
func canonicalID(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return parsed.String(), nil
}

func canonicalIDs(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		c, err := canonicalID(id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
