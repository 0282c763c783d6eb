// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package config loads newsrag settings from an optional config file,
// a .env file and NEWSRAG_ prefixed environment variables.
//
// Environment variables map onto keys with "." replaced by "_", so
// NEWSRAG_REDIS_HOST sets redis.host.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/embedding"
	"github.com/poiesic/newsrag/feed"
	"github.com/poiesic/newsrag/index/qdrant"
	"github.com/poiesic/newsrag/ingestion"
	"github.com/poiesic/newsrag/prompt"
	"github.com/poiesic/newsrag/retrieval"
	"github.com/poiesic/newsrag/storage/redis"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "NEWSRAG"

// Config holds all configuration for a newsrag instance.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	AI        AIConfig        `mapstructure:"ai"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Prompt    PromptConfig    `mapstructure:"prompt"`
	Session   SessionConfig   `mapstructure:"session"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

func (s ServerConfig) Validate() error {
	if _, _, err := net.SplitHostPort(s.Address); err != nil {
		return fmt.Errorf("server.address %q: %w", s.Address, err)
	}
	return nil
}

// AIConfig contains embedding and chat provider settings.
// Empty API keys select the fallback implementations.
type AIConfig struct {
	EmbeddingHost      string  `mapstructure:"embedding_host"`
	EmbeddingModel     string  `mapstructure:"embedding_model"`
	EmbeddingAPIKey    string  `mapstructure:"embedding_api_key"`
	EmbeddingDimension int     `mapstructure:"embedding_dimension"`
	ChatHost           string  `mapstructure:"chat_host"`
	ChatModel          string  `mapstructure:"chat_model"`
	ChatAPIKey         string  `mapstructure:"chat_api_key"`
	Temperature        float64 `mapstructure:"temperature"`
	MaxTokens          int     `mapstructure:"max_tokens"`
}

func (a AIConfig) Validate() error {
	if a.EmbeddingDimension <= 0 {
		return fmt.Errorf("ai.embedding_dimension must be greater than zero")
	}
	if a.MaxTokens <= 0 {
		return fmt.Errorf("ai.max_tokens must be greater than zero")
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return fmt.Errorf("ai.temperature must be between 0 and 2")
	}
	return nil
}

// Provider converts the section into the ai package's configuration.
func (a AIConfig) Provider() *ai.Config {
	cfg := ai.NewConfig(
		ai.WithEmbeddingHost(a.EmbeddingHost),
		ai.WithEmbeddingModel(a.EmbeddingModel),
		ai.WithEmbeddingAPIKey(a.EmbeddingAPIKey),
		ai.WithEmbeddingDimension(a.EmbeddingDimension),
		ai.WithChatHost(a.ChatHost),
		ai.WithChatModel(a.ChatModel),
		ai.WithChatAPIKey(a.ChatAPIKey),
		ai.WithTemperature(a.Temperature),
		ai.WithMaxTokens(a.MaxTokens),
	)
	cfg.Normalize()
	return cfg
}

// RedisConfig contains Redis connection settings for chat history.
// An empty host disables Redis and keeps history in memory.
type RedisConfig struct {
	Host       string        `mapstructure:"host"`
	Port       string        `mapstructure:"port"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	Timeout    time.Duration `mapstructure:"timeout"`
	HistoryTTL time.Duration `mapstructure:"history_ttl"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("redis.port required when redis.host is set")
	}
	if r.HistoryTTL <= 0 {
		return fmt.Errorf("redis.history_ttl must be greater than zero")
	}
	return nil
}

// Enabled reports whether a Redis host is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, r.Port)
}

// QdrantConfig contains vector database settings.
type QdrantConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func (q QdrantConfig) Validate() error {
	if q.Enabled && strings.TrimSpace(q.URL) == "" {
		return fmt.Errorf("qdrant.url required when qdrant is enabled")
	}
	return nil
}

// StorageConfig contains local storage settings.
// An empty data_dir keeps articles and the embedding cache in memory.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// IngestionConfig contains feed and refresh settings.
type IngestionConfig struct {
	FeedURL       string        `mapstructure:"feed_url"`
	ChunkSize     int           `mapstructure:"chunk_size"`
	ChunkOverlap  int           `mapstructure:"chunk_overlap"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	InitialLimit  int           `mapstructure:"initial_limit"`
	RefreshLimit  int           `mapstructure:"refresh_limit"`
	Schedule      string        `mapstructure:"schedule"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	PoolSize      int           `mapstructure:"pool_size"`
}

func (i IngestionConfig) Validate() error {
	if strings.TrimSpace(i.FeedURL) == "" {
		return fmt.Errorf("ingestion.feed_url required")
	}
	if i.ChunkSize <= 0 || i.ChunkOverlap < 0 || i.ChunkOverlap >= i.ChunkSize {
		return fmt.Errorf("ingestion.chunk_overlap must be in [0, chunk_size) and chunk_size positive: %w", ingestion.ErrInvalidChunkParams)
	}
	if i.BatchSize <= 0 {
		return fmt.Errorf("ingestion.batch_size must be greater than zero")
	}
	if i.MaxRetries <= 0 {
		return fmt.Errorf("ingestion.max_retries must be greater than zero")
	}
	if i.InitialLimit <= 0 || i.RefreshLimit <= 0 {
		return fmt.Errorf("ingestion.initial_limit and ingestion.refresh_limit must be greater than zero")
	}
	if i.CheckInterval <= 0 {
		return fmt.Errorf("ingestion.check_interval must be greater than zero")
	}
	if i.PoolSize < 0 {
		return fmt.Errorf("ingestion.pool_size cannot be negative")
	}
	return nil
}

// RetrievalConfig contains passage retrieval settings.
type RetrievalConfig struct {
	TopK      int `mapstructure:"top_k"`
	OverFetch int `mapstructure:"overfetch"`
}

func (r RetrievalConfig) Validate() error {
	if r.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be greater than zero")
	}
	if r.OverFetch < 1 {
		return fmt.Errorf("retrieval.overfetch must be at least 1")
	}
	return nil
}

// PromptConfig contains prompt assembly settings.
type PromptConfig struct {
	Budget       int    `mapstructure:"budget"`
	MaxHistory   int    `mapstructure:"max_history"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

func (p PromptConfig) Validate() error {
	if p.Budget <= 0 {
		return fmt.Errorf("prompt.budget must be greater than zero")
	}
	if p.MaxHistory < 0 {
		return fmt.Errorf("prompt.max_history cannot be negative")
	}
	return nil
}

// SessionConfig contains conversation settings.
type SessionConfig struct {
	MaxMessageLength int `mapstructure:"max_message_length"`
}

func (s SessionConfig) Validate() error {
	if s.MaxMessageLength <= 0 {
		return fmt.Errorf("session.max_message_length must be greater than zero")
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	return errors.Join(
		c.Server.Validate(),
		c.AI.Validate(),
		c.Redis.Validate(),
		c.Qdrant.Validate(),
		c.Ingestion.Validate(),
		c.Retrieval.Validate(),
		c.Prompt.Validate(),
		c.Session.Validate(),
	)
}

func setDefaults(v *viper.Viper) {
	aiDefaults := ai.DefaultConfig()

	v.SetDefault("server.address", "localhost:8000")

	v.SetDefault("ai.embedding_host", aiDefaults.EmbeddingHost)
	v.SetDefault("ai.embedding_model", aiDefaults.EmbeddingModel)
	v.SetDefault("ai.embedding_api_key", "")
	v.SetDefault("ai.embedding_dimension", aiDefaults.EmbeddingDimension)
	v.SetDefault("ai.chat_host", aiDefaults.ChatHost)
	v.SetDefault("ai.chat_model", aiDefaults.ChatModel)
	v.SetDefault("ai.chat_api_key", "")
	v.SetDefault("ai.temperature", aiDefaults.Temperature)
	v.SetDefault("ai.max_tokens", aiDefaults.MaxTokens)

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.timeout", 5*time.Second)
	v.SetDefault("redis.history_ttl", redis.DefaultTTL)

	v.SetDefault("qdrant.enabled", false)
	v.SetDefault("qdrant.url", "http://localhost:6333")
	v.SetDefault("qdrant.api_key", "")
	v.SetDefault("qdrant.collection", qdrant.DefaultAlias)
	v.SetDefault("qdrant.timeout", 10*time.Second)

	v.SetDefault("storage.data_dir", "")

	v.SetDefault("ingestion.feed_url", feed.DefaultFeedURL)
	v.SetDefault("ingestion.chunk_size", ingestion.DefaultChunkSize)
	v.SetDefault("ingestion.chunk_overlap", ingestion.DefaultChunkOverlap)
	v.SetDefault("ingestion.batch_size", embedding.DefaultBatchSize)
	v.SetDefault("ingestion.max_retries", embedding.DefaultMaxRetries)
	v.SetDefault("ingestion.retry_delay", embedding.DefaultRetryDelay)
	v.SetDefault("ingestion.initial_limit", ingestion.DefaultInitialLimit)
	v.SetDefault("ingestion.refresh_limit", ingestion.DefaultRefreshLimit)
	v.SetDefault("ingestion.schedule", ingestion.DefaultSchedule)
	v.SetDefault("ingestion.check_interval", ingestion.DefaultCheckInterval)
	v.SetDefault("ingestion.pool_size", 0)

	v.SetDefault("retrieval.top_k", retrieval.DefaultTopK)
	v.SetDefault("retrieval.overfetch", retrieval.DefaultOverFetch)

	v.SetDefault("prompt.budget", prompt.DefaultBudget)
	v.SetDefault("prompt.max_history", prompt.DefaultMaxHistory)
	v.SetDefault("prompt.system_prompt", prompt.DefaultSystemPrompt)

	v.SetDefault("session.max_message_length", core.DefaultMaxInputLength)
}

// Load reads configuration. When path is empty, a config file named
// newsrag.{yaml,json,toml} is looked up in the working directory and
// ./config, and its absence is not an error. A .env file in the working
// directory is loaded into the environment first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("newsrag")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
