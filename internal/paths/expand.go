package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Expand resolves environment variables and a leading "~" so configured
// paths like "~/.matsuri" or "$HOME/events" work as written.
func Expand(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
	}

	return filepath.Clean(expanded), nil
}
