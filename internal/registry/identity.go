package registry

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const idFileName = ".instance_id"

// EnsureInstanceID returns the install-wide id stored in dir, creating it on
// first use. If dir is not writable an ephemeral id is returned.
func EnsureInstanceID(dir string) string {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return uuid.New().String()
	}

	idFile := filepath.Join(dir, idFileName)
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	newID := uuid.New().String()
	_ = os.WriteFile(idFile, []byte(newID), 0644)
	return newID
}
