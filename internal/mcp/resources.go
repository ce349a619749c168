package mcp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxResourceSize is the maximum file size for a file:// resource read (1MB).
const MaxResourceSize = 1024 * 1024

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

// ReadFileResource reads a project-relative file under rootPath,
// exposed via the file://<relative path> URI scheme. Bundle items only
// carry a file path and byte spans, not a durable resource id, so
// clients that want full file content re-read it from disk the same
// way the indexer originally did.
func (s *Server) ReadFileResource(uri string) (*ResourceContent, error) {
	const prefix = "file://"
	if !strings.HasPrefix(uri, prefix) {
		return nil, NewResourceNotFoundError(uri)
	}
	relativePath := strings.TrimPrefix(uri, prefix)

	if !isValidResourcePath(relativePath) {
		return nil, NewInvalidParamsError(fmt.Sprintf("invalid path: %s", relativePath))
	}

	fullPath := filepath.Join(s.rootPath, relativePath)

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewResourceNotFoundError(uri)
		}
		return nil, MapError(err)
	}
	if info.Size() > MaxResourceSize {
		return nil, NewInvalidParamsError(fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), MaxResourceSize))
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, MapError(err)
	}

	return &ResourceContent{
		URI:      uri,
		Content:  string(content),
		MIMEType: MimeTypeForPath(relativePath),
	}, nil
}

// isValidResourcePath rejects absolute paths, Windows drive paths, and
// any path traversal attempt.
func isValidResourcePath(path string) bool {
	if path == "" {
		return false
	}
	if filepath.IsAbs(path) {
		return false
	}
	if len(path) >= 2 && path[1] == ':' {
		return false
	}

	cleaned := filepath.Clean(path)
	if strings.HasPrefix(cleaned, "..") {
		return false
	}
	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return false
		}
	}
	return true
}
