package models

import (
	"fmt"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// RecordIDString safely extracts the string ID from a SurrealDB RecordID.
// Returns an error if the ID is not a string type.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// RecordIDStrings converts a list of record links to their string IDs.
func RecordIDStrings(ids []surrealmodels.RecordID) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		s, err := RecordIDString(id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
