package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, defaultExcludePatterns, cfg.Paths.Exclude)
	assert.Equal(t, filepath.Join(".ctxengine", "store.db"), cfg.Store.Path)
	assert.Equal(t, "sqlite", cfg.Store.BM25Backend)
	assert.Equal(t, 0.6, cfg.Retrieval.BM25Weight)
	assert.Equal(t, 0.4, cfg.Retrieval.VectorWeight)
	assert.Equal(t, 60, cfg.Retrieval.RRFConstant)
	assert.Equal(t, 20, cfg.Retrieval.MaxResults)
	assert.True(t, cfg.Retrieval.RerankEnabled)
	assert.Equal(t, 2, cfg.Traversal.MaxDepth)
	assert.Equal(t, "markdown", cfg.Assembler.DefaultFormat)
	assert.Equal(t, "", cfg.Embeddings.Provider, "empty provider triggers ollama -> static auto-detection")
	assert.Equal(t, "qwen3-embedding:8b", cfg.Embeddings.Model)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, 8765, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
}

func TestNewConfig_PassesValidate(t *testing.T) {
	cfg := NewConfig()

	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsWeightsNotSummingToOne(t *testing.T) {
	cfg := NewConfig()
	cfg.Retrieval.BM25Weight = 0.9
	cfg.Retrieval.VectorWeight = 0.9

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must equal 1.0")
}

func TestValidate_RejectsOutOfRangeTraversalDepth(t *testing.T) {
	cfg := NewConfig()
	cfg.Traversal.MaxDepth = 3

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "traversal.max_depth")
}

func TestValidate_RejectsUnknownEmbeddingsProvider(t *testing.T) {
	cfg := NewConfig()
	cfg.Embeddings.Provider = "mlx"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embeddings.provider")
}

func TestValidate_RejectsUnknownTransport(t *testing.T) {
	cfg := NewConfig()
	cfg.Server.Transport = "websocket"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.transport")
}

func TestValidate_RejectsUnknownLogLevel(t *testing.T) {
	cfg := NewConfig()
	cfg.Server.LogLevel = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.log_level")
}

func TestLoad_NoConfigFile_ReturnsDefaultsWithStorePathUnderDir(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, ".ctxengine", "store.db"), cfg.Store.Path)
	assert.Equal(t, 0.6, cfg.Retrieval.BM25Weight)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlContent := `
retrieval:
  bm25_weight: 0.5
  vector_weight: 0.5
  max_results: 15
server:
  log_level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ctxengine.yaml"), []byte(yamlContent), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Retrieval.BM25Weight)
	assert.Equal(t, 0.5, cfg.Retrieval.VectorWeight)
	assert.Equal(t, 15, cfg.Retrieval.MaxResults)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_YmlExtension_IsAlsoRecognized(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ctxengine.yml"), []byte("server:\n  log_level: warn\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Server.LogLevel)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ctxengine.yaml"), []byte("not: valid: yaml: [}"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_InvalidOverride_FailsValidation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ctxengine.yaml"), []byte("server:\n  transport: websocket\n"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestApplyEnvOverrides_OverridesBM25Weight(t *testing.T) {
	t.Setenv("CTXENGINE_BM25_WEIGHT", "0.7")
	t.Setenv("CTXENGINE_VECTOR_WEIGHT", "0.3")

	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Retrieval.BM25Weight)
	assert.Equal(t, 0.3, cfg.Retrieval.VectorWeight)
}

func TestApplyEnvOverrides_OverridesTransportAndLogLevel(t *testing.T) {
	t.Setenv("CTXENGINE_TRANSPORT", "sse")
	t.Setenv("CTXENGINE_LOG_LEVEL", "error")

	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "sse", cfg.Server.Transport)
	assert.Equal(t, "error", cfg.Server.LogLevel)
}

func TestDetectProjectType_RecognizesGoModule(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example\n"), 0o644))

	assert.Equal(t, ProjectTypeGo, DetectProjectType(dir))
}

func TestDetectProjectType_RecognizesNodeProject(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte("{}"), 0o644))

	assert.Equal(t, ProjectTypeNode, DetectProjectType(dir))
}

func TestDetectProjectType_UnknownWhenNoMarkers(t *testing.T) {
	dir := t.TempDir()

	assert.Equal(t, ProjectTypeUnknown, DetectProjectType(dir))
}

func TestProjectType_IsKnown(t *testing.T) {
	assert.True(t, ProjectTypeGo.IsKnown())
	assert.False(t, ProjectTypeUnknown.IsKnown())
}

func TestFindProjectRoot_FindsGitDirUpwards(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestFindProjectRoot_FindsConfigFileUpwards(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".ctxengine.yaml"), []byte("version: 1\n"), 0o644))
	nested := filepath.Join(root, "nested")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestFindProjectRoot_FallsBackToStartDirWhenNothingFound(t *testing.T) {
	dir := t.TempDir()

	found, err := FindProjectRoot(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, found)
}

func TestDiscoverSourceDirs_FindsCommonDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "internal"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cmd"), 0o755))

	found := DiscoverSourceDirs(dir)
	assert.Contains(t, found, "internal")
	assert.Contains(t, found, "cmd")
	assert.NotContains(t, found, "src")
}

func TestDiscoverDocsDirs_FindsDocsAndReadme(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# hi\n"), 0o644))

	found := DiscoverDocsDirs(dir)
	assert.Contains(t, found, "docs")
	assert.Contains(t, found, "README.md")
}
