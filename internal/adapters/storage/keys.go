package storage

import (
	"path"
	"strings"
)

// joinKey prepends the configured root to a key relative to it.
func joinKey(root, key string) string {
	root = strings.Trim(root, "/")
	key = strings.TrimPrefix(key, "/")
	if root == "" {
		return key
	}
	return root + "/" + key
}

// relativeKey strips the configured root from a backend key.
func relativeKey(root, key string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, root), "/")
}

// cleanKey rejects keys escaping the storage root.
func cleanKey(key string) (string, bool) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", true
	}
	c := path.Clean(key)
	if c == ".." || strings.HasPrefix(c, "../") {
		return "", false
	}
	return c, true
}
