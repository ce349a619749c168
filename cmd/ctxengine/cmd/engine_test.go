package cmd

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ctxengine/internal/config"
)

func TestMatchesExclude_MatchesDirectorySegment(t *testing.T) {
	patterns := []string{"**/node_modules/**", "**/.git/**"}

	assert.True(t, matchesExclude("node_modules/", patterns))
	assert.True(t, matchesExclude("src/node_modules/", patterns))
	assert.False(t, matchesExclude("src/internal/", patterns))
}

func TestMatchesExclude_MatchesFileGlobSuffix(t *testing.T) {
	patterns := []string{"**/*.min.js", "**/go.sum"}

	assert.True(t, matchesExclude("dist/app.min.js", patterns))
	assert.True(t, matchesExclude("go.sum", patterns))
	assert.False(t, matchesExclude("main.go", patterns))
}

func TestMatchesExclude_SkipsPatternsWithInternalSlash(t *testing.T) {
	// a pattern with a slash remaining after stripping "**/"/"/**"
	// wrappers can't be matched per path segment, so it should never
	// match rather than silently doing the wrong thing.
	patterns := []string{"vendor/modules.txt"}

	assert.False(t, matchesExclude("vendor/modules.txt", patterns))
}

func TestDiscoverFiles_WalksTreeRespectingExcludes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "pkg", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))

	cfg := config.NewConfig()

	files, err := discoverFiles(root, cfg)
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		paths = append(paths, filepath.ToSlash(f.Path))
	}
	sort.Strings(paths)

	assert.Contains(t, paths, "main.go")
	assert.NotContains(t, paths, "node_modules/pkg/index.js")
	for _, p := range paths {
		assert.NotContains(t, p, ".git/")
	}
}

func TestDiscoverFiles_ResolvesLanguageFromExtension(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	cfg := config.NewConfig()
	files, err := discoverFiles(root, cfg)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "go", files[0].Language)
}
