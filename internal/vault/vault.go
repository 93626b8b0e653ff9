// Package vault locates and indexes an Obsidian-style note vault: the root
// is the nearest ancestor holding a .obsidian directory, the attachment
// folder comes from .obsidian/app.json, and image links resolve through a
// candidate-path search with a case-insensitive basename fallback.
package vault

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const markerDir = ".obsidian"

// FindRoot walks up from the given markdown file looking for the vault
// marker directory. Without a marker the file's own directory is the root.
func FindRoot(inputFile string) string {
	current := filepath.Dir(inputFile)
	for {
		info, err := os.Stat(filepath.Join(current, markerDir))
		if err == nil && info.IsDir() {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Dir(inputFile)
		}
		current = parent
	}
}

// Context is an indexed vault: its root, the configured attachment folder
// and a case-insensitive basename index over every file in the vault.
type Context struct {
	Root             string
	AttachmentFolder string

	basenameIndex map[string][]string
}

// NewContext indexes the vault rooted at the given directory.
func NewContext(root string) (*Context, error) {
	index := make(map[string][]string)
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}
		base := strings.ToLower(entry.Name())
		index[base] = append(index[base], path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index vault %s: %w", root, err)
	}
	return &Context{
		Root:             root,
		AttachmentFolder: readAttachmentFolder(root),
		basenameIndex:    index,
	}, nil
}

// readAttachmentFolder pulls attachmentFolderPath out of the vault's
// app.json. A missing or malformed file simply means no attachment folder.
func readAttachmentFolder(root string) string {
	content, err := os.ReadFile(filepath.Join(root, markerDir, "app.json"))
	if err != nil {
		return ""
	}
	var settings struct {
		AttachmentFolderPath string `json:"attachmentFolderPath"`
	}
	if err := json.Unmarshal(content, &settings); err != nil {
		return ""
	}
	return strings.TrimSpace(settings.AttachmentFolderPath)
}
