// Package config loads runtime configuration from the environment.
//
// Every setting has a global form (e.g. MEMORY_CREATOR_ENABLED) and most have
// a per-agent override form prefixed by the upper-cased agent name
// (e.g. WEATHER_AGENT_MEMORY_CREATOR_ENABLED). Overrides win.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the umbrella configuration object for one agent process.
type Config struct {
	// AgentName is the stable agent identifier, conventionally suffixed
	// "_agent". The inbound queue name is derived from it.
	AgentName string

	Queue  QueueConfig
	LLM    LLMConfig
	Memory MemoryConfig

	// APIGatewayURL is the base URL of the state-store gateway.
	APIGatewayURL string

	// WeaviateURL is the vector store endpoint.
	WeaviateURL string

	// SystemPromptPath is the filesystem fallback for the system prompt.
	SystemPromptPath string

	// InternalKeyPath is the well-known shared-secret location.
	InternalKeyPath string

	// AttachmentsDir is the shared-volume directory attachments are read from.
	AttachmentsDir string

	// CheckInterval is the loop tick period.
	CheckInterval time.Duration

	// MaxConversationMessages bounds the LLM context; 0 means unlimited.
	MaxConversationMessages int

	// HistoryRetrievalLimit is the transcript page size loaded per cycle.
	HistoryRetrievalLimit int
}

// QueueConfig holds broker connection settings.
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
}

// URL renders the AMQP connection URL.
func (q QueueConfig) URL() string {
	vhost := q.VHost
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", q.User, q.Password, q.Host, q.Port, vhost)
}

// LLMConfig holds Gemini model selection and credentials.
type LLMConfig struct {
	APIKey    string
	Model     string
	FastModel string
	// EmbeddingModel produces the 768-dim memory vectors.
	EmbeddingModel string
}

// MemoryConfig gates the two subconscious memory modules.
type MemoryConfig struct {
	CreatorEnabled        bool
	RetrieverEnabled      bool
	CreatorRunEveryNTurns int
	RetrieverRunEveryN    int
	RetrieverMaxIter      int
	// RecentMessageWindow is how many trailing transcript messages the
	// modules see.
	RecentMessageWindow int
}

// Load reads and validates configuration for the named agent.
func Load(agentName string) (*Config, error) {
	if agentName == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	prefix := strings.ToUpper(agentName)

	cfg := &Config{
		AgentName: agentName,
		Queue: QueueConfig{
			Host:     agentEnv(prefix, "QUEUE_HOST", "localhost"),
			Port:     agentEnvInt(prefix, "QUEUE_PORT", 5672),
			User:     agentEnv(prefix, "QUEUE_USER", "guest"),
			Password: agentEnv(prefix, "QUEUE_PASSWORD", "guest"),
			VHost:    agentEnv(prefix, "QUEUE_VHOST", "/"),
		},
		LLM: LLMConfig{
			APIKey:         getEnv("GEMINI_API_KEY", ""),
			Model:          getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			FastModel:      getEnv("GEMINI_FAST_MODEL", "gemini-2.0-flash-lite"),
			EmbeddingModel: getEnv("GEMINI_EMBEDDING_MODEL", "text-embedding-004"),
		},
		Memory: MemoryConfig{
			CreatorEnabled:        agentEnvBool(prefix, "MEMORY_CREATOR_ENABLED", false),
			RetrieverEnabled:      agentEnvBool(prefix, "MEMORY_RETRIEVER_ENABLED", false),
			CreatorRunEveryNTurns: getEnvInt("MEMORY_CREATOR_RUN_EVERY_N_TURNS", 1),
			RetrieverRunEveryN:    getEnvInt("MEMORY_RETRIEVER_RUN_EVERY_N_TURNS", 1),
			RetrieverMaxIter:      getEnvInt("MEMORY_RETRIEVER_MAX_ITERATIONS", 3),
			RecentMessageWindow:   getEnvInt("MEMORY_RECENT_MESSAGE_WINDOW", 10),
		},
		APIGatewayURL:           getEnv("API_GATEWAY_URL", "http://localhost:8080"),
		WeaviateURL:             getEnv("WEAVIATE_URL", "http://localhost:8081"),
		SystemPromptPath:        getEnv("SYSTEM_PROMPT_PATH", "/app/system_prompt.txt"),
		InternalKeyPath:         getEnv("INTERNAL_KEY_PATH", "/shared/internal_key"),
		AttachmentsDir:          getEnv("ATTACHMENTS_DIR", "/shared/attachments"),
		CheckInterval:           getEnvDuration("AGENT_CHECK_INTERVAL_SECONDS", 250*time.Millisecond),
		MaxConversationMessages: getEnvInt("MAX_CONVERSATION_MESSAGES", 0),
		HistoryRetrievalLimit:   getEnvInt("MESSAGE_HISTORY_RETRIEVAL_LIMIT", 500),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Queue.Port <= 0 || c.Queue.Port > 65535 {
		return fmt.Errorf("invalid queue port: %d", c.Queue.Port)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check interval must be positive")
	}
	if c.MaxConversationMessages < 0 {
		return fmt.Errorf("MAX_CONVERSATION_MESSAGES must be >= 0")
	}
	if c.HistoryRetrievalLimit <= 0 {
		return fmt.Errorf("MESSAGE_HISTORY_RETRIEVAL_LIMIT must be positive")
	}
	if c.Memory.CreatorRunEveryNTurns <= 0 || c.Memory.RetrieverRunEveryN <= 0 {
		return fmt.Errorf("memory run_every_n_turns must be positive")
	}
	if c.Memory.RetrieverMaxIter <= 0 {
		return fmt.Errorf("MEMORY_RETRIEVER_MAX_ITERATIONS must be positive")
	}
	return nil
}
