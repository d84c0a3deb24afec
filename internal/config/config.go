// Package config provides configuration types and loading for vecstore.
package config

import "time"

// Config is the root configuration struct.
type Config struct {
	VectorStore VectorStoreConfig `json:"vectorStore"`
	Retry       RetryConfig       `json:"retry"`
	Embedding   EmbeddingConfig   `json:"embedding"`
	Cache       CacheConfig       `json:"cache"`
	Sentiment   SentimentConfig   `json:"sentiment"`
	Search      SearchConfig      `json:"search"`
	Gateway     GatewayConfig     `json:"gateway"`
	Slack       SlackConfig       `json:"slack"`
	Ingest      IngestConfig      `json:"ingest"`
	Emulator    EmulatorConfig    `json:"emulator"`
}

// ---------------------------------------------------------------------------
// VectorStore – hosted index connection
// ---------------------------------------------------------------------------

// VectorStoreConfig configures the control- and data-plane client.
type VectorStoreConfig struct {
	APIKey            string `json:"apiKey" envconfig:"API_KEY"`
	Environment       string `json:"environment" envconfig:"ENVIRONMENT"`
	ProjectName       string `json:"projectName,omitempty" envconfig:"PROJECT_NAME"`
	ControllerURL     string `json:"controllerUrl,omitempty" envconfig:"CONTROLLER_URL"`
	BatchSize         int    `json:"batchSize" envconfig:"BATCH_SIZE"`
	UpsertConcurrency int    `json:"upsertConcurrency" envconfig:"UPSERT_CONCURRENCY"`
	TimeoutSeconds    int    `json:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
}

// RetryConfig controls backoff for transient failures.
type RetryConfig struct {
	MaxAttempts int     `json:"maxAttempts" envconfig:"MAX_ATTEMPTS"`
	BaseDelayMs int     `json:"baseDelayMs" envconfig:"BASE_DELAY_MS"`
	Multiplier  float64 `json:"multiplier" envconfig:"MULTIPLIER"`
	MaxDelayMs  int     `json:"maxDelayMs" envconfig:"MAX_DELAY_MS"`
}

// ---------------------------------------------------------------------------
// Embedding – text → vector providers
// ---------------------------------------------------------------------------

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider string `json:"provider" envconfig:"PROVIDER"` // cohere | openai
	Model    string `json:"model" envconfig:"MODEL"`
	APIKey   string `json:"apiKey" envconfig:"API_KEY"`
	APIBase  string `json:"apiBase,omitempty" envconfig:"API_BASE"`
	Truncate string `json:"truncate,omitempty" envconfig:"TRUNCATE"`
}

// CacheConfig configures the Redis-backed embedding cache.
type CacheConfig struct {
	Enabled    bool   `json:"enabled" envconfig:"ENABLED"`
	Addr       string `json:"addr" envconfig:"ADDR"`
	Password   string `json:"password,omitempty" envconfig:"PASSWORD"`
	DB         int    `json:"db" envconfig:"DB"`
	TTLSeconds int    `json:"ttlSeconds" envconfig:"TTL_SECONDS"`
	KeyPrefix  string `json:"keyPrefix" envconfig:"KEY_PREFIX"`
}

// SentimentConfig configures the Cohere classifier behind /sentiment.
// Either Model (a fine-tuned classifier) or ExamplesPath must be set.
type SentimentConfig struct {
	APIKey       string `json:"apiKey,omitempty" envconfig:"API_KEY"`
	APIBase      string `json:"apiBase,omitempty" envconfig:"API_BASE"`
	Model        string `json:"model,omitempty" envconfig:"MODEL"`
	ExamplesPath string `json:"examplesPath,omitempty" envconfig:"EXAMPLES_PATH"`
}

// Configured reports whether a classifier can be built from c.
func (c SentimentConfig) Configured() bool {
	return c.APIKey != "" && (c.Model != "" || c.ExamplesPath != "")
}

// ---------------------------------------------------------------------------
// Search / Gateway / Slack – the HTTP front-end
// ---------------------------------------------------------------------------

// SearchConfig configures the semantic search flow.
type SearchConfig struct {
	Index     string `json:"index" envconfig:"INDEX"`
	Namespace string `json:"namespace" envconfig:"NAMESPACE"`
	Metric    string `json:"metric" envconfig:"METRIC"`
	TopK      int    `json:"topK" envconfig:"TOP_K"`
	BatchSize int    `json:"batchSize" envconfig:"BATCH_SIZE"`
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Host                   string `json:"host" envconfig:"HOST"`
	Port                   int    `json:"port" envconfig:"PORT"`
	AuthToken              string `json:"authToken,omitempty" envconfig:"AUTH_TOKEN"`
	ShutdownTimeoutSeconds int    `json:"shutdownTimeoutSeconds" envconfig:"SHUTDOWN_TIMEOUT_SECONDS"`
}

// SlackConfig configures the /query slash command.
type SlackConfig struct {
	Enabled       bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken      string `json:"botToken" envconfig:"BOT_TOKEN"`
	SigningSecret string `json:"signingSecret" envconfig:"SIGNING_SECRET"`
	APIURL        string `json:"apiUrl,omitempty" envconfig:"API_URL"`
	DefaultQuery  string `json:"defaultQuery" envconfig:"DEFAULT_QUERY"`
	HistoryLimit  int    `json:"historyLimit" envconfig:"HISTORY_LIMIT"`
}

// ---------------------------------------------------------------------------
// Ingest – Kafka consumer
// ---------------------------------------------------------------------------

// IngestConfig configures the streaming upsert consumer.
type IngestConfig struct {
	Brokers         string `json:"brokers" envconfig:"BROKERS"`
	Topic           string `json:"topic" envconfig:"TOPIC"`
	GroupID         string `json:"groupId" envconfig:"GROUP_ID"`
	Index           string `json:"index" envconfig:"INDEX"`
	BatchSize       int    `json:"batchSize" envconfig:"BATCH_SIZE"`
	FlushIntervalMs int    `json:"flushIntervalMs" envconfig:"FLUSH_INTERVAL_MS"`
}

// ---------------------------------------------------------------------------
// Emulator – local development server
// ---------------------------------------------------------------------------

// EmulatorConfig configures `vecstore emulate`.
type EmulatorConfig struct {
	Host         string `json:"host" envconfig:"HOST"`
	Port         int    `json:"port" envconfig:"PORT"`
	DBPath       string `json:"dbPath" envconfig:"DB_PATH"`
	APIKey       string `json:"apiKey,omitempty" envconfig:"API_KEY"`
	ReadyAfterMs int    `json:"readyAfterMs" envconfig:"READY_AFTER_MS"`
	MaxPods      int    `json:"maxPods" envconfig:"MAX_PODS"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		VectorStore: VectorStoreConfig{
			Environment:       "us-west1-gcp",
			BatchSize:         128,
			UpsertConcurrency: 4,
			TimeoutSeconds:    60,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelayMs: 500,
			Multiplier:  2,
			MaxDelayMs:  8000,
		},
		Embedding: EmbeddingConfig{
			Provider: "cohere",
			Model:    "small",
			Truncate: "LEFT",
		},
		Cache: CacheConfig{
			Addr:       "localhost:6379",
			TTLSeconds: 24 * 60 * 60,
			KeyPrefix:  "vecstore:emb:",
		},
		Search: SearchConfig{
			Index:     "cohere-pinecone-search",
			Metric:    "dotproduct",
			TopK:      5,
			BatchSize: 128,
		},
		Gateway: GatewayConfig{
			Host:                   "0.0.0.0",
			Port:                   8080,
			ShutdownTimeoutSeconds: 10,
		},
		Slack: SlackConfig{
			DefaultQuery: "joy",
			HistoryLimit: 200,
		},
		Ingest: IngestConfig{
			Brokers:         "localhost:9092",
			Topic:           "vecstore.upserts",
			GroupID:         "vecstore-ingest",
			BatchSize:       128,
			FlushIntervalMs: 2000,
		},
		Emulator: EmulatorConfig{
			Host:    "127.0.0.1",
			Port:    8787,
			DBPath:  "~/.vecstore/emulator.db",
			MaxPods: 10,
		},
	}
}

// BaseDelay returns the retry base delay as a duration.
func (r RetryConfig) BaseDelay() time.Duration { return time.Duration(r.BaseDelayMs) * time.Millisecond }

// MaxDelay returns the retry delay cap as a duration.
func (r RetryConfig) MaxDelay() time.Duration { return time.Duration(r.MaxDelayMs) * time.Millisecond }

// FlushInterval returns the ingest flush interval as a duration.
func (c IngestConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// ReadyAfter returns the emulator's transition delay as a duration.
func (c EmulatorConfig) ReadyAfter() time.Duration {
	return time.Duration(c.ReadyAfterMs) * time.Millisecond
}
