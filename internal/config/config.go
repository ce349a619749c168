package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectType represents the type of project detected.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeUnknown ProjectType = "unknown"
)

// Config is the complete ctxengine configuration: the load-once half of the
// picture. Runtime-tunable retrieval/assembler/traversal/learner weights
// that the Learner can swap live in internal/policy.Snapshot instead —
// this struct only carries their starting defaults and the bounds the
// Policy loader validates an incoming snapshot against.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Paths       PathsConfig       `yaml:"paths" json:"paths"`
	Store       StoreConfig       `yaml:"store" json:"store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval" json:"retrieval"`
	Traversal   TraversalConfig   `yaml:"traversal" json:"traversal"`
	Assembler   AssemblerConfig   `yaml:"assembler" json:"assembler"`
	Learner     LearnerConfig     `yaml:"learner" json:"learner"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Server      ServerConfig      `yaml:"server" json:"server"`
}

// PathsConfig configures which paths the ingest adapter walks.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// StoreConfig configures the Store (C1) backend.
type StoreConfig struct {
	// Path is the on-disk database file. Defaults to .ctxengine/store.db.
	Path string `yaml:"path" json:"path"`
	// BM25Backend selects the lexical index backend: "sqlite" (FTS5,
	// default, concurrent multi-reader access) or "bleve" (legacy,
	// single-process BoltDB-backed index).
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`
	// SQLiteCacheMB sizes SQLite's page cache.
	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// RetrievalConfig configures the Retriever (C3) lanes and fusion.
// These are the defaults a fresh policy.Snapshot is seeded from; after the
// first Learner run the live values live in internal/policy, not here.
type RetrievalConfig struct {
	// BM25Weight is the RRF lane weight for the lexical (FTS) lane.
	BM25Weight float64 `yaml:"bm25_weight" json:"bm25_weight"`
	// VectorWeight is the RRF lane weight for the vector (HNSW) lane.
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`
	// RRFConstant is the reciprocal-rank-fusion smoothing constant k.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	// MaxResults is the Retriever's top-K; each lane fetches
	// k_fts = min(MaxResults*3, 200) candidates before fusion.
	MaxResults int `yaml:"max_results" json:"max_results"`
	// LexicalCap is loaded and merged but not read by the Retriever,
	// whose 200 cap on k_fts is fixed.
	LexicalCap int `yaml:"lexical_cap" json:"lexical_cap"`
	// RerankEnabled toggles the cross-encoder/remote rerank stage.
	RerankEnabled bool `yaml:"rerank_enabled" json:"rerank_enabled"`
}

// TraversalConfig configures the code-graph BFS (C5).
type TraversalConfig struct {
	MaxDepth int `yaml:"max_depth" json:"max_depth"`
	// BudgetFraction bounds the traversal sub-budget as a fraction of the
	// request's total token budget.
	BudgetFraction float64 `yaml:"budget_fraction" json:"budget_fraction"`
	// BudgetCeiling is an absolute token ceiling on the traversal
	// sub-budget regardless of BudgetFraction.
	BudgetCeiling int `yaml:"budget_ceiling" json:"budget_ceiling"`
	// CacheTTL is how long a cached traversal result remains valid.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	// CacheSize bounds the traversal LRU cache entry count.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// AssemblerConfig configures progressive context assembly (C6).
type AssemblerConfig struct {
	// DefaultFormat is the default output rendering ("markdown" or "json").
	DefaultFormat string `yaml:"default_format" json:"default_format"`
	// BudgetWarningRatio is the fraction of budget used that triggers
	// BUDGET_WARNING (spec default 0.9).
	BudgetWarningRatio float64 `yaml:"budget_warning_ratio" json:"budget_warning_ratio"`
	// IncludeTests defaults whether test spans survive degradation first.
	IncludeTests bool `yaml:"include_tests" json:"include_tests"`
	// VerboseComments defaults whether comment spans survive degradation first.
	VerboseComments bool `yaml:"verbose_comments" json:"verbose_comments"`
	// RequestDeadline bounds one Assemble call's whole retrieve->rerank->
	// traverse->pack pipeline; zero disables the deadline.
	RequestDeadline time.Duration `yaml:"request_deadline" json:"request_deadline"`
}

// LearnerConfig configures offline weight tuning (C9).
type LearnerConfig struct {
	// SignatureCacheSize bounds the bundle-signature LRU cache.
	SignatureCacheSize int `yaml:"signature_cache_size" json:"signature_cache_size"`
	// MaxIterations bounds projected-gradient-descent steps per batch.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
	// ConvergenceEpsilon is the L-infinity norm threshold for declaring
	// convergence (||delta w||_inf < epsilon).
	ConvergenceEpsilon float64 `yaml:"convergence_epsilon" json:"convergence_epsilon"`
	// LearningRate is the gradient-descent step size eta.
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`
	// SatisfactionWeight and EngagementWeight combine into signal
	// s = SatisfactionWeight*satisfied + EngagementWeight*f(notes).
	SatisfactionWeight float64 `yaml:"satisfaction_weight" json:"satisfaction_weight"`
	EngagementWeight   float64 `yaml:"engagement_weight" json:"engagement_weight"`
}

// EmbeddingsConfig configures the embedding provider (pkg/provider).
type EmbeddingsConfig struct {
	Provider             string        `yaml:"provider" json:"provider"`
	Model                string        `yaml:"model" json:"model"`
	Dimensions           int           `yaml:"dimensions" json:"dimensions"`
	BatchSize            int           `yaml:"batch_size" json:"batch_size"`
	ModelDownloadTimeout time.Duration `yaml:"model_download_timeout" json:"model_download_timeout"`

	// Ollama settings (default, cross-platform provider).
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// Thermal management for sustained embedding workloads during
	// large-repo indexing.
	InterBatchDelay        string  `yaml:"inter_batch_delay" json:"inter_batch_delay"`
	TimeoutProgression     float64 `yaml:"timeout_progression" json:"timeout_progression"`
	RetryTimeoutMultiplier float64 `yaml:"retry_timeout_multiplier" json:"retry_timeout_multiplier"`
}

// PerformanceConfig configures performance tuning options.
type PerformanceConfig struct {
	IndexWorkers int    `yaml:"index_workers" json:"index_workers"`
	MemoryLimit  string `yaml:"memory_limit" json:"memory_limit"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	Port      int    `yaml:"port" json:"port"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// defaultExcludePatterns are always excluded from ingest.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// NewConfig creates a new Config with the spec's default values.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Store: StoreConfig{
			Path:          filepath.Join(".ctxengine", "store.db"),
			BM25Backend:   "sqlite",
			SQLiteCacheMB: 64,
		},
		Retrieval: RetrievalConfig{
			BM25Weight:    0.6,
			VectorWeight:  0.4,
			RRFConstant:   60,
			MaxResults:    20,
			LexicalCap:    200,
			RerankEnabled: true,
		},
		Traversal: TraversalConfig{
			MaxDepth:       2,
			BudgetFraction: 0.30,
			BudgetCeiling:  4000,
			CacheTTL:       5 * time.Minute,
			CacheSize:      1000,
		},
		Assembler: AssemblerConfig{
			DefaultFormat:      "markdown",
			BudgetWarningRatio: 0.9,
			IncludeTests:       false,
			VerboseComments:    false,
			RequestDeadline:    20 * time.Second,
		},
		Learner: LearnerConfig{
			SignatureCacheSize: 1000,
			MaxIterations:      50,
			ConvergenceEpsilon: 1e-3,
			LearningRate:       0.05,
			SatisfactionWeight: 0.7,
			EngagementWeight:   0.3,
		},
		Embeddings: EmbeddingsConfig{
			Provider:               "", // Empty triggers auto-detection: Ollama -> static fallback
			Model:                   "qwen3-embedding:8b",
			Dimensions:              0, // Auto-detect from provider
			BatchSize:               32,
			ModelDownloadTimeout:    10 * time.Minute,
			OllamaHost:              "", // Empty uses default http://localhost:11434
			InterBatchDelay:         "",
			TimeoutProgression:      1.5,
			RetryTimeoutMultiplier:  1.0,
		},
		Performance: PerformanceConfig{
			IndexWorkers: runtime.NumCPU(),
			MemoryLimit:  "auto",
		},
		Server: ServerConfig{
			Transport: "stdio",
			Port:      8765,
			LogLevel:  "info",
		},
	}
}

// defaultStorePath returns the default on-disk store path relative to dir.
func defaultStorePath(dir string) string {
	return filepath.Join(dir, ".ctxengine", "store.db")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/ctxengine/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/ctxengine/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ctxengine", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "ctxengine", "config.yaml")
	}
	return filepath.Join(home, ".config", "ctxengine", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory, applying
// precedence: defaults < user config < project config < env vars.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()
	cfg.Store.Path = defaultStorePath(dir)

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .ctxengine.yaml or .ctxengine.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".ctxengine.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".ctxengine.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Store.BM25Backend != "" {
		c.Store.BM25Backend = other.Store.BM25Backend
	}
	if other.Store.SQLiteCacheMB != 0 {
		c.Store.SQLiteCacheMB = other.Store.SQLiteCacheMB
	}

	if other.Retrieval.BM25Weight != 0 {
		c.Retrieval.BM25Weight = other.Retrieval.BM25Weight
	}
	if other.Retrieval.VectorWeight != 0 {
		c.Retrieval.VectorWeight = other.Retrieval.VectorWeight
	}
	if other.Retrieval.RRFConstant != 0 {
		c.Retrieval.RRFConstant = other.Retrieval.RRFConstant
	}
	if other.Retrieval.MaxResults != 0 {
		c.Retrieval.MaxResults = other.Retrieval.MaxResults
	}
	if other.Retrieval.LexicalCap != 0 {
		c.Retrieval.LexicalCap = other.Retrieval.LexicalCap
	}

	if other.Traversal.MaxDepth != 0 {
		c.Traversal.MaxDepth = other.Traversal.MaxDepth
	}
	if other.Traversal.BudgetFraction != 0 {
		c.Traversal.BudgetFraction = other.Traversal.BudgetFraction
	}
	if other.Traversal.BudgetCeiling != 0 {
		c.Traversal.BudgetCeiling = other.Traversal.BudgetCeiling
	}
	if other.Traversal.CacheTTL != 0 {
		c.Traversal.CacheTTL = other.Traversal.CacheTTL
	}
	if other.Traversal.CacheSize != 0 {
		c.Traversal.CacheSize = other.Traversal.CacheSize
	}

	if other.Assembler.DefaultFormat != "" {
		c.Assembler.DefaultFormat = other.Assembler.DefaultFormat
	}
	if other.Assembler.BudgetWarningRatio != 0 {
		c.Assembler.BudgetWarningRatio = other.Assembler.BudgetWarningRatio
	}
	if other.Assembler.RequestDeadline != 0 {
		c.Assembler.RequestDeadline = other.Assembler.RequestDeadline
	}

	if other.Learner.SignatureCacheSize != 0 {
		c.Learner.SignatureCacheSize = other.Learner.SignatureCacheSize
	}
	if other.Learner.MaxIterations != 0 {
		c.Learner.MaxIterations = other.Learner.MaxIterations
	}
	if other.Learner.ConvergenceEpsilon != 0 {
		c.Learner.ConvergenceEpsilon = other.Learner.ConvergenceEpsilon
	}
	if other.Learner.LearningRate != 0 {
		c.Learner.LearningRate = other.Learner.LearningRate
	}
	if other.Learner.SatisfactionWeight != 0 {
		c.Learner.SatisfactionWeight = other.Learner.SatisfactionWeight
	}
	if other.Learner.EngagementWeight != 0 {
		c.Learner.EngagementWeight = other.Learner.EngagementWeight
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.InterBatchDelay != "" {
		c.Embeddings.InterBatchDelay = other.Embeddings.InterBatchDelay
	}
	if other.Embeddings.TimeoutProgression != 0 {
		c.Embeddings.TimeoutProgression = other.Embeddings.TimeoutProgression
	}
	if other.Embeddings.RetryTimeoutMultiplier != 0 {
		c.Embeddings.RetryTimeoutMultiplier = other.Embeddings.RetryTimeoutMultiplier
	}

	if other.Performance.IndexWorkers != 0 {
		c.Performance.IndexWorkers = other.Performance.IndexWorkers
	}
	if other.Performance.MemoryLimit != "" {
		c.Performance.MemoryLimit = other.Performance.MemoryLimit
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies CTXENGINE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CTXENGINE_BM25_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.BM25Weight = w
		}
	}
	if v := os.Getenv("CTXENGINE_VECTOR_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.VectorWeight = w
		}
	}
	if v := os.Getenv("CTXENGINE_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.RRFConstant = k
		}
	}
	if v := os.Getenv("CTXENGINE_TRAVERSAL_MAX_DEPTH"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d >= 0 {
			c.Traversal.MaxDepth = d
		}
	}
	if v := os.Getenv("CTXENGINE_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CTXENGINE_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("CTXENGINE_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("CTXENGINE_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("CTXENGINE_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
	if v := os.Getenv("CTXENGINE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// DetectProjectType detects the project type based on marker files.
// Priority: go.mod > package.json > pyproject.toml/requirements.txt
func DetectProjectType(dir string) ProjectType {
	if fileExists(filepath.Join(dir, "go.mod")) {
		return ProjectTypeGo
	}
	if fileExists(filepath.Join(dir, "package.json")) {
		return ProjectTypeNode
	}
	if fileExists(filepath.Join(dir, "pyproject.toml")) ||
		fileExists(filepath.Join(dir, "requirements.txt")) {
		return ProjectTypePython
	}
	return ProjectTypeUnknown
}

// FindProjectRoot finds the project root directory.
// It looks for .git or .ctxengine.yaml/.yml by walking up the directory tree.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".ctxengine.yaml")) ||
			fileExists(filepath.Join(currentDir, ".ctxengine.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// DiscoverSourceDirs discovers common source directories in the project.
func DiscoverSourceDirs(dir string) []string {
	commonSourceDirs := []string{"src", "lib", "pkg", "internal", "cmd"}
	frameworkDirs := []string{"app", "pages"}

	var found []string
	for _, d := range commonSourceDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}

	if isNextJS(dir) {
		for _, d := range frameworkDirs {
			if dirExists(filepath.Join(dir, d)) {
				found = append(found, d)
			}
		}
	}

	return found
}

// DiscoverDocsDirs discovers documentation directories in the project.
func DiscoverDocsDirs(dir string) []string {
	commonDocDirs := []string{"docs", "doc"}
	commonDocFiles := []string{"README.md", "readme.md", "README.markdown"}

	var found []string
	for _, d := range commonDocDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}

	for _, f := range commonDocFiles {
		if fileExists(filepath.Join(dir, f)) {
			found = append(found, f)
			break
		}
	}

	return found
}

// isNextJS checks if the project is a Next.js project.
func isNextJS(dir string) bool {
	pkgPath := filepath.Join(dir, "package.json")
	if !fileExists(pkgPath) {
		return false
	}

	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return false
	}

	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}

	_, hasNext := pkg.Dependencies["next"]
	_, hasNextDev := pkg.DevDependencies["next"]
	return hasNext || hasNextDev
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// String returns a string representation of ProjectType.
func (p ProjectType) String() string {
	return string(p)
}

// IsKnown returns true if the project type is known (not unknown).
func (p ProjectType) IsKnown() bool {
	return p != ProjectTypeUnknown
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Retrieval.BM25Weight < 0 || c.Retrieval.BM25Weight > 1 {
		return fmt.Errorf("retrieval.bm25_weight must be between 0 and 1, got %f", c.Retrieval.BM25Weight)
	}
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.VectorWeight > 1 {
		return fmt.Errorf("retrieval.vector_weight must be between 0 and 1, got %f", c.Retrieval.VectorWeight)
	}

	sum := c.Retrieval.BM25Weight + c.Retrieval.VectorWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("retrieval.bm25_weight + retrieval.vector_weight must equal 1.0, got %.2f", sum)
	}

	if c.Retrieval.MaxResults < 0 {
		return fmt.Errorf("retrieval.max_results must be non-negative, got %d", c.Retrieval.MaxResults)
	}

	if c.Traversal.MaxDepth < 0 || c.Traversal.MaxDepth > 2 {
		return fmt.Errorf("traversal.max_depth must be between 0 and 2, got %d", c.Traversal.MaxDepth)
	}
	if c.Traversal.BudgetFraction <= 0 || c.Traversal.BudgetFraction > 1 {
		return fmt.Errorf("traversal.budget_fraction must be between 0 and 1, got %f", c.Traversal.BudgetFraction)
	}

	if c.Learner.MaxIterations <= 0 {
		return fmt.Errorf("learner.max_iterations must be positive, got %d", c.Learner.MaxIterations)
	}
	if c.Learner.ConvergenceEpsilon <= 0 {
		return fmt.Errorf("learner.convergence_epsilon must be positive, got %f", c.Learner.ConvergenceEpsilon)
	}

	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"static": true, "ollama": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	validTransports := map[string]bool{"stdio": true, "sse": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio' or 'sse', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}
