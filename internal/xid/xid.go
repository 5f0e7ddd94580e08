package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New returns a random identifier of the form "<prefix>-<uuid>".
func New(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
