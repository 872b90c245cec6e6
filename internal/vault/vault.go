// Package vault stores off-site copies of produced archives.
package vault

import (
	"fmt"
	"path"
	"strings"
)

// cleanKey validates an archive key and returns it in canonical form. Keys
// are slash-separated relative paths that must stay inside the vault.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty vault key")
	}
	if strings.Contains(key, `\`) {
		return "", fmt.Errorf("invalid vault key %q: backslash", key)
	}
	cleaned := path.Clean(key)
	if path.IsAbs(cleaned) || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid vault key %q: escapes vault root", key)
	}
	return cleaned, nil
}
