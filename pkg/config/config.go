package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/mikeboe/deep-research/pkg/research"
)

type Config struct {
	Provider        string
	GoogleApiKey    string
	OpenAIApiKey    string
	OpenAIBaseURL   string
	AnthropicApiKey string
	OllamaURL       string
	ThinkingModel   string
	TaskModel       string
	EmbeddingModel  string
	ChatModel       string

	SearchProvider       string
	SearxngURL           string
	SearchMaxResults     int
	SearchRateLimit      float64
	ParallelSearch       int
	EnableSearch         bool
	EnableReferences     bool
	EnableCitationImage  bool
	OnlyUseLocalResource bool
	Language             string
	KnowledgeTopK        int
	ReviewDepth          int

	DatabaseURL    string
	HistoryDB      string
	Port           string
	ChunkSize      int
	ChunkOverlap   int
	CollectionName string
}

func Load() *Config {
	return &Config{
		Provider:        getEnv("PROVIDER", "google"),
		GoogleApiKey:    getEnv("GOOGLE_API_KEY", getEnv("GEMINI_API_KEY", "")),
		OpenAIApiKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		AnthropicApiKey: getEnv("ANTHROPIC_API_KEY", ""),
		OllamaURL:       getEnv("OLLAMA_URL", "http://localhost:11434"),
		ThinkingModel:   getEnv("THINKING_MODEL", "gemini-3-pro-preview"),
		TaskModel:       getEnv("TASK_MODEL", "gemini-3-flash-preview"),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		ChatModel:       getEnv("CHAT_MODEL", "gemini-2.5-flash"),

		SearchProvider:       strings.ToLower(getEnv("SEARCH_PROVIDER", "model")),
		SearxngURL:           getEnv("SEARXNG_URL", "http://localhost:8080"),
		SearchMaxResults:     getEnvAsInt("SEARCH_MAX_RESULTS", 5),
		SearchRateLimit:      getEnvAsFloat("SEARCH_RATE_LIMIT", 0),
		ParallelSearch:       getEnvAsInt("PARALLEL_SEARCH", 2),
		EnableSearch:         getEnvAsBool("ENABLE_SEARCH", true),
		EnableReferences:     getEnvAsBool("ENABLE_REFERENCES", true),
		EnableCitationImage:  getEnvAsBool("ENABLE_CITATION_IMAGE", true),
		OnlyUseLocalResource: getEnvAsBool("ONLY_USE_LOCAL_RESOURCE", false),
		Language:             getEnv("LANGUAGE", ""),
		KnowledgeTopK:        getEnvAsInt("KNOWLEDGE_TOP_K", 5),
		ReviewDepth:          getEnvAsInt("REVIEW_DEPTH", 1),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		HistoryDB:      getEnv("HISTORY_DB", ""),
		Port:           getEnv("PORT", "8081"),
		ChunkSize:      getEnvAsInt("CHUNK_SIZE", 1000),
		ChunkOverlap:   getEnvAsInt("CHUNK_OVERLAP", 200),
		CollectionName: getEnv("COLLECTION_NAME", "research_knowledge"),
	}
}

// APIKey returns the credential for the configured completion provider.
func (c *Config) APIKey() string {
	switch c.Provider {
	case "openai":
		return c.OpenAIApiKey
	case "anthropic":
		return c.AnthropicApiKey
	case "ollama":
		return ""
	default:
		return c.GoogleApiKey
	}
}

// EmbeddingAPIKey returns the credential for the embedding backend.
// Anthropic has no embeddings, so it shares the Google key.
func (c *Config) EmbeddingAPIKey() string {
	switch c.Provider {
	case "openai":
		return c.OpenAIApiKey
	case "ollama":
		return ""
	default:
		return c.GoogleApiKey
	}
}

// BaseURL returns the endpoint override for the configured provider, if any.
func (c *Config) BaseURL() string {
	switch c.Provider {
	case "openai":
		return c.OpenAIBaseURL
	case "ollama":
		return c.OllamaURL
	default:
		return ""
	}
}

// Research returns the pipeline settings.
func (c *Config) Research() research.Settings {
	return research.Settings{
		Parallel:             c.ParallelSearch,
		EnableSearch:         c.EnableSearch,
		EnableReferences:     c.EnableReferences,
		EnableCitationImage:  c.EnableCitationImage,
		OnlyUseLocalResource: c.OnlyUseLocalResource,
		KnowledgeTopK:        c.KnowledgeTopK,
		Language:             c.Language,
		ReviewDepth:          c.ReviewDepth,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "enable", "enabled", "on":
		return true
	case "0", "false", "no", "disable", "disabled", "off":
		return false
	default:
		return defaultValue
	}
}
