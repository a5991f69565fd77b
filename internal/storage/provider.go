// Package storage is the sandboxed file system behind the proposal inbox.
package storage

import (
	"path/filepath"
	"strings"
	"time"
)

// FileInfo describes one proposal file.
type FileInfo struct {
	Path     string    `json:"path"`
	Checksum string    `json:"checksum"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
}

// Provider is the interface for inbox file operations. Paths are relative
// to the provider root and may not escape it.
type Provider interface {
	// List returns the proposal files directly inside dir.
	List(dir string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath, creating parent directories.
	Move(oldPath, newPath string) error
	// Root is the absolute directory the provider is confined to.
	Root() string
}

// Extensions lists the accepted proposal file extensions.
var Extensions = []string{".json", ".yaml", ".yml"}

// Accepted reports whether name looks like a proposal file. Hidden files
// (including in-flight temp files) are ignored.
func Accepted(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
