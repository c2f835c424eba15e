package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands a leading ~, environment variables and a file:// prefix
// in a user-supplied path. Examples:
//   - "~/data/tasks.db" -> "/home/user/data/tasks.db"
//   - "$XDG_DATA_HOME/tasksync" -> "/home/user/.local/share/tasksync"
//   - "file:///var/lib/tasks.db" -> "/var/lib/tasks.db"
func ExpandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}

	path = strings.TrimPrefix(path, "file://")
	path = os.ExpandEnv(path)

	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return homeDir, nil
	}
	return filepath.Join(homeDir, path[2:]), nil
}
