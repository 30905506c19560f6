package models

import (
	"strings"

	"github.com/google/uuid"
)

// newID fills an empty identifier with a random UUID.
func newID(id *string) {
	if id == nil {
		return
	}
	if strings.TrimSpace(*id) == "" {
		*id = uuid.NewString()
	}
}
