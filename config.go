package darkscan

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for the darkscan service.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.darkscan/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "darkscan".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.darkscan/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Embedding configures the sentence-embedding provider.
	Embedding EmbedConfig `json:"embedding" yaml:"embedding"`

	// CheckpointPath is the classifier checkpoint artifact (JSON export).
	CheckpointPath string `json:"checkpoint_path" yaml:"checkpoint_path"`

	// LawTablePath points at the predicate/category/laws reference table
	// (.xlsx or .csv). Empty disables the external fallback lookup.
	LawTablePath string `json:"law_table_path" yaml:"law_table_path"`

	// Graph construction hyperparameters for inductive inference.
	// Overridden by reference_meta stored alongside the reference set.
	KNNK      int    `json:"knn_k" yaml:"knn_k"`
	KNNMetric string `json:"knn_metric" yaml:"knn_metric"` // cosine, euclidean
	MutualKNN bool   `json:"mutual_knn" yaml:"mutual_knn"`

	// Insert-feed behaviour for the background worker.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`

	// EmbeddingDim must match the embedding model (768 for mpnet-class models).
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// EmbedConfig configures a single embedding provider endpoint.
type EmbedConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openai, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.darkscan/darkscan.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "darkscan",
		StorageDir: "home",
		Embedding: EmbedConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		KNNK:         10,
		KNNMetric:    "cosine",
		MutualKNN:    true,
		PollInterval: 2 * time.Second,
		MaxRetries:   3,
		EmbeddingDim: 768,
	}
}

// DatabasePath computes the final database path from config fields.
func (c *Config) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "darkscan"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".darkscan")
		return filepath.Join(dir, name+".db")
	}
}
