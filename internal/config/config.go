// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package config

import (
	"errors"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	loamerr "github.com/loam-dev/loam/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level Loam configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	UploadDir string          `mapstructure:"upload_dir"`
	Server    ServerConfig    `mapstructure:"server"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Leads     LeadsConfig     `mapstructure:"leads"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen      string          `mapstructure:"listen"`
	CORSOrigins []string        `mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig throttles the public chat surface per client IP. A zero
// rate disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ChunkingConfig controls how ingested text is split.
type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// RetrievalConfig sets process-wide retrieval defaults.
type RetrievalConfig struct {
	TopK                int     `mapstructure:"top_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider    string `mapstructure:"provider"`
	Model       string `mapstructure:"model"`
	Dimension   int    `mapstructure:"dimension"`
	OpenAIKey   string `mapstructure:"openai_api_key"`
	OpenAIModel string `mapstructure:"openai_model"`
}

// OllamaConfig configures the generation backend. An API key switches the
// client to Ollama Cloud; otherwise BaseURL points at a local daemon.
type OllamaConfig struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// VectorConfig selects the vector backend and holds per-backend settings.
type VectorConfig struct {
	Provider string         `mapstructure:"provider"`
	Local    LocalConfig    `mapstructure:"local"`
	Chroma   ChromaConfig   `mapstructure:"chroma"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Weaviate WeaviateConfig `mapstructure:"weaviate"`
	Pinecone PineconeConfig `mapstructure:"pinecone"`
	Milvus   MilvusConfig   `mapstructure:"milvus"`
	Pgvector PgvectorConfig `mapstructure:"pgvector"`
}

// LocalConfig configures the embedded on-disk index.
type LocalConfig struct {
	IndexPath    string `mapstructure:"index_path"`
	MetadataPath string `mapstructure:"metadata_path"`
	Dimension    int    `mapstructure:"dimension"`
}

// ChromaConfig configures the Chroma HTTP backend.
type ChromaConfig struct {
	URL        string `mapstructure:"url"`
	Tenant     string `mapstructure:"tenant"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// QdrantConfig configures the Qdrant HTTP backend.
type QdrantConfig struct {
	URL        string `mapstructure:"url"`
	APIKey     string `mapstructure:"api_key"`
	Collection string `mapstructure:"collection"`
	Dimension  int    `mapstructure:"dimension"`
}

// WeaviateConfig configures the Weaviate HTTP backend.
type WeaviateConfig struct {
	URL        string `mapstructure:"url"`
	APIKey     string `mapstructure:"api_key"`
	Collection string `mapstructure:"collection"`
	Dimension  int    `mapstructure:"dimension"`
}

// PineconeConfig configures the Pinecone managed backend. ControllerURL
// overrides the control-plane endpoint, mainly for tests.
type PineconeConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Index         string `mapstructure:"index"`
	Namespace     string `mapstructure:"namespace"`
	Dimension     int    `mapstructure:"dimension"`
	Metric        string `mapstructure:"metric"`
	Cloud         string `mapstructure:"cloud"`
	Region        string `mapstructure:"region"`
	ControllerURL string `mapstructure:"controller_url"`
}

// MilvusConfig configures the Milvus backend.
type MilvusConfig struct {
	URI        string `mapstructure:"uri"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Collection string `mapstructure:"collection"`
	Dimension  int    `mapstructure:"dimension"`
	IndexType  string `mapstructure:"index_type"`
	NList      int    `mapstructure:"nlist"`
	NProbe     int    `mapstructure:"nprobe"`
}

// PgvectorConfig configures the PostgreSQL + pgvector backend.
type PgvectorConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	Table            string `mapstructure:"table"`
	Dimension        int    `mapstructure:"dimension"`
	CreateExtension  bool   `mapstructure:"create_extension"`
}

// TrackerConfig locates the document tracker file.
type TrackerConfig struct {
	Path string `mapstructure:"path"`
}

// LeadsConfig locates the lead database.
type LeadsConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SetDefaults registers every optional key's default on v. Absence of any
// of these never prevents startup; only backend-required credentials do,
// and those are checked at backend construction.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("upload_dir", "")

	v.SetDefault("server.listen", "0.0.0.0:8000")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit.requests_per_second", 0.0)
	v.SetDefault("server.rate_limit.burst", 10)

	v.SetDefault("chunking.size", 1000)
	v.SetDefault("chunking.overlap", 200)

	v.SetDefault("retrieval.top_k", 8)
	v.SetDefault("retrieval.similarity_threshold", 0.5)

	v.SetDefault("embedding.provider", "local")
	v.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	v.SetDefault("embedding.dimension", 384)
	v.SetDefault("embedding.openai_model", "text-embedding-3-small")

	v.SetDefault("ollama.model", "llama3:8b")
	v.SetDefault("ollama.base_url", "http://localhost:11434")

	v.SetDefault("vector.provider", "local")
	v.SetDefault("vector.chroma.url", "http://localhost:8001")
	v.SetDefault("vector.chroma.tenant", "default_tenant")
	v.SetDefault("vector.chroma.database", "default_database")
	v.SetDefault("vector.chroma.collection", "chatbot_docs")
	v.SetDefault("vector.qdrant.url", "http://localhost:6333")
	v.SetDefault("vector.qdrant.collection", "loam_docs")
	v.SetDefault("vector.weaviate.url", "http://localhost:8080")
	v.SetDefault("vector.weaviate.collection", "LoamChunk")
	v.SetDefault("vector.pinecone.index", "loam-rag")
	v.SetDefault("vector.pinecone.namespace", "default")
	v.SetDefault("vector.pinecone.metric", "cosine")
	v.SetDefault("vector.pinecone.cloud", "aws")
	v.SetDefault("vector.pinecone.region", "us-east-1")
	v.SetDefault("vector.pinecone.controller_url", "https://api.pinecone.io")
	v.SetDefault("vector.milvus.uri", "http://localhost:19530")
	v.SetDefault("vector.milvus.user", "root")
	v.SetDefault("vector.milvus.password", "Milvus")
	v.SetDefault("vector.milvus.collection", "loam_docs")
	v.SetDefault("vector.milvus.index_type", "IVF_FLAT")
	v.SetDefault("vector.milvus.nlist", 1024)
	v.SetDefault("vector.milvus.nprobe", 16)
	v.SetDefault("vector.pgvector.table", "loam_embeddings")
	v.SetDefault("vector.pgvector.create_extension", true)

	v.SetDefault("log.level", "info")
}

// SetupEnv binds environment variables with the LOAM_ prefix, so e.g.
// LOAM_VECTOR_PROVIDER overrides vector.provider.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("LOAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults only when the
// path is empty) with environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, loamerr.Errorf(loamerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a configured viper instance. The CLI
// uses this after layering flags, env, and an auto-discovered config file.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, loamerr.Errorf(loamerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	cfg.applyDerivedPaths()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, loamerr.Errorf(loamerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// applyDerivedPaths fills path settings that default relative to data_dir.
func (c *Config) applyDerivedPaths() {
	if c.UploadDir == "" {
		c.UploadDir = filepath.Join(c.DataDir, "uploads")
	}
	if c.Tracker.Path == "" {
		c.Tracker.Path = filepath.Join(c.DataDir, "vector_documents.json")
	}
	if c.Leads.Path == "" {
		c.Leads.Path = filepath.Join(c.DataDir, "leads", "leads.db")
	}
	if c.Vector.Local.IndexPath == "" {
		c.Vector.Local.IndexPath = filepath.Join(c.DataDir, "index", "vectors.hnsw")
	}
	if c.Vector.Local.MetadataPath == "" {
		c.Vector.Local.MetadataPath = filepath.Join(c.DataDir, "index", "metadata.json")
	}

	// Backend dimensions default to the embedding dimension.
	if c.Vector.Local.Dimension == 0 {
		c.Vector.Local.Dimension = c.Embedding.Dimension
	}
	if c.Vector.Qdrant.Dimension == 0 {
		c.Vector.Qdrant.Dimension = c.Embedding.Dimension
	}
	if c.Vector.Weaviate.Dimension == 0 {
		c.Vector.Weaviate.Dimension = c.Embedding.Dimension
	}
	if c.Vector.Pinecone.Dimension == 0 {
		c.Vector.Pinecone.Dimension = c.Embedding.Dimension
	}
	if c.Vector.Milvus.Dimension == 0 {
		c.Vector.Milvus.Dimension = c.Embedding.Dimension
	}
	if c.Vector.Pgvector.Dimension == 0 {
		c.Vector.Pgvector.Dimension = c.Embedding.Dimension
	}
}

// Validate checks the configuration for logical errors, collecting all
// issues rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateChunking()...)
	errs = append(errs, c.validateRetrieval()...)
	errs = append(errs, c.validateEmbedding()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, loamerr.Errorf(loamerr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, loamerr.Errorf(loamerr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		errs = append(errs, loamerr.Errorf(loamerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %q",
			portStr,
		))
	}

	return errs
}

func (c *Config) validateChunking() []error {
	var errs []error

	if c.Chunking.Size <= 0 {
		errs = append(errs, loamerr.Errorf(loamerr.CodeConfigValidateInvalidValue,
			"config: chunking.size must be greater than 0, got %d", c.Chunking.Size))
	}
	if c.Chunking.Overlap < 0 {
		errs = append(errs, loamerr.Errorf(loamerr.CodeConfigValidateInvalidValue,
			"config: chunking.overlap must not be negative, got %d", c.Chunking.Overlap))
	}
	if c.Chunking.Size > 0 && c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, loamerr.Errorf(loamerr.CodeConfigValidateInvalidValue,
			"config: chunking.overlap must be smaller than chunking.size, got %d >= %d",
			c.Chunking.Overlap, c.Chunking.Size))
	}

	return errs
}

func (c *Config) validateRetrieval() []error {
	var errs []error

	if c.Retrieval.TopK <= 0 {
		errs = append(errs, loamerr.Errorf(loamerr.CodeConfigValidateInvalidValue,
			"config: retrieval.top_k must be greater than 0, got %d", c.Retrieval.TopK))
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		errs = append(errs, loamerr.Errorf(loamerr.CodeConfigValidateInvalidValue,
			"config: retrieval.similarity_threshold must be in [0, 1], got %g",
			c.Retrieval.SimilarityThreshold))
	}

	return errs
}

func (c *Config) validateEmbedding() []error {
	var errs []error

	validProviders := map[string]bool{"local": true, "openai": true}
	if !validProviders[c.Embedding.Provider] {
		errs = append(errs, loamerr.Errorf(loamerr.CodeConfigValidateInvalidValue,
			"config: embedding.provider must be one of [local, openai], got %q",
			c.Embedding.Provider))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, loamerr.Errorf(loamerr.CodeConfigValidateInvalidValue,
			"config: embedding.dimension must be greater than 0, got %d",
			c.Embedding.Dimension))
	}

	return errs
}

