package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	MemoryBackendInMemory = "memory"
	MemoryBackendSQLite   = "sqlite"
	MemoryBackendPGVector = "pgvector"
)

type Config struct {
	ProjectDir   string `json:"project_dir"`
	ResultsDir   string `json:"results_dir"`
	DataDir      string `json:"data_dir"`
	DataCacheDir string `json:"data_cache_dir"`
	LogDir       string `json:"log_dir"`
	DBPath       string `json:"db_path"`

	LLMProvider   string `json:"llm_provider"`
	DeepThinkLLM  string `json:"deep_think_llm"`
	QuickThinkLLM string `json:"quick_think_llm"`
	BackendURL    string `json:"backend_url"`
	MaxTokens     int    `json:"max_tokens"`

	// Debate and analyst selection
	MaxDebateRounds      int      `json:"max_debate_rounds"`
	MaxRiskDiscussRounds int      `json:"max_risk_rounds"`
	SelectedAnalysts     []string `json:"selected_analysts"`

	// Memory
	MemoryTopK     int    `json:"memory_top_k"`
	MemoryCapacity int    `json:"memory_capacity"`
	MemoryBackend  string `json:"memory_backend"`
	MemoryDSN      string `json:"memory_dsn"`
	EmbeddingDim   int    `json:"embedding_dim"`

	// Reasoning retries and time bounds
	RetryMaxAttempts      int `json:"retry_max_attempts"`
	RetryBaseDelayMs      int `json:"retry_base_delay_ms"`
	RetryMaxDelayMs       int `json:"retry_max_delay_ms"`
	TurnTimeoutSeconds    int `json:"turn_timeout_seconds"`
	AnalystTimeoutSeconds int `json:"analyst_timeout_seconds"`

	OnlineTools     bool   `json:"online_tools"`
	Debug           bool   `json:"debug"`
	LogLevel        string `json:"log_level"`
	RedditUserAgent string `json:"reddit_user_agent"`
	PersistResults  bool   `json:"persist_results"`

	// Eino Debug configuration
	EinoDebugEnabled bool `json:"eino_debug_enabled"`
	EinoDebugPort    int  `json:"eino_debug_port"`

	CacheEnabled bool `json:"cache_enabled"`

	// Longport API Configuration
	LongportAppKey      string `json:"longport_app_key"`
	LongportAppSecret   string `json:"longport_app_secret"`
	LongportAccessToken string `json:"longport_access_token"`

	// AI Model API Keys
	DeepSeekAPIKey string `json:"deepseek_api_key"`
	OpenAIAPIKey   string `json:"openai_api_key"`

	// Market/Social data API keys
	FinnhubAPIKey  string `json:"finnhub_api_key"`
	RedditClientID string `json:"reddit_client_id"`
	RedditSecret   string `json:"reddit_secret"`

	// Scheduled watchlist runs
	Watchlist    []string `json:"watchlist"`
	ScheduleCron string   `json:"schedule_cron"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	cfg := DefaultConfigWithRoot(currentDir)
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv loads the .env file, if any, and lets environment variables
// override c.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()
	c.loadFromEnv()
}

// DefaultConfigWithRoot returns defaults with every directory under root and
// no environment applied.
func DefaultConfigWithRoot(root string) *Config {
	return &Config{
		ProjectDir:   root,
		ResultsDir:   filepath.Join(root, "results"),
		DataDir:      filepath.Join(root, "data"),
		DataCacheDir: filepath.Join(root, "data", "cache"),
		LogDir:       filepath.Join(root, "logs"),
		DBPath:       filepath.Join(root, "data", "cortexdesk.db"),

		LLMProvider:   "deepseek",
		DeepThinkLLM:  "deepseek-reasoner",
		QuickThinkLLM: "deepseek-chat",
		MaxTokens:     2000,

		MaxDebateRounds:      1,
		MaxRiskDiscussRounds: 1,
		SelectedAnalysts:     []string{"market", "sentiment", "news", "fundamentals"},

		MemoryTopK:     2,
		MemoryCapacity: 500,
		MemoryBackend:  MemoryBackendSQLite,
		EmbeddingDim:   256,

		RetryMaxAttempts:      3,
		RetryBaseDelayMs:      1000,
		RetryMaxDelayMs:       30000,
		TurnTimeoutSeconds:    180,
		AnalystTimeoutSeconds: 300,

		OnlineTools:     true,
		LogLevel:        "INFO",
		RedditUserAgent: "cortexdesk/1.0",
		PersistResults:  true,

		EinoDebugEnabled: false,
		EinoDebugPort:    52538,

		CacheEnabled: true,

		ScheduleCron: "30 16 * * 1-5",
	}
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			*dst = v
		}
	}
}

func envList(key string, dst *[]string) {
	if val := os.Getenv(key); val != "" {
		*dst = splitList(val)
	}
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) loadFromEnv() {
	envString("PROJECT_DIR", &c.ProjectDir)
	envString("RESULTS_DIR", &c.ResultsDir)
	envString("DATA_DIR", &c.DataDir)
	envString("DATA_CACHE_DIR", &c.DataCacheDir)
	envString("LOG_DIR", &c.LogDir)
	envString("DB_PATH", &c.DBPath)

	envString("LLM_PROVIDER", &c.LLMProvider)
	envString("DEEP_THINK_LLM", &c.DeepThinkLLM)
	envString("QUICK_THINK_LLM", &c.QuickThinkLLM)
	envString("BACKEND_URL", &c.BackendURL)
	envInt("MAX_TOKENS", &c.MaxTokens)

	envBool("CACHE_ENABLED", &c.CacheEnabled)
	envBool("ONLINE_TOOLS", &c.OnlineTools)
	envBool("PERSIST_RESULTS", &c.PersistResults)

	envInt("MAX_DEBATE_ROUNDS", &c.MaxDebateRounds)
	envInt("MAX_RISK_ROUNDS", &c.MaxRiskDiscussRounds)
	envList("SELECTED_ANALYSTS", &c.SelectedAnalysts)

	envInt("MEMORY_TOP_K", &c.MemoryTopK)
	envInt("MEMORY_CAPACITY", &c.MemoryCapacity)
	envString("MEMORY_BACKEND", &c.MemoryBackend)
	envString("MEMORY_DSN", &c.MemoryDSN)
	envInt("EMBEDDING_DIM", &c.EmbeddingDim)

	envInt("RETRY_MAX_ATTEMPTS", &c.RetryMaxAttempts)
	envInt("RETRY_BASE_DELAY_MS", &c.RetryBaseDelayMs)
	envInt("RETRY_MAX_DELAY_MS", &c.RetryMaxDelayMs)
	envInt("TURN_TIMEOUT_SECONDS", &c.TurnTimeoutSeconds)
	envInt("ANALYST_TIMEOUT_SECONDS", &c.AnalystTimeoutSeconds)

	envBool("CORTEXGO_DEBUG", &c.Debug)
	envString("LOG_LEVEL", &c.LogLevel)

	envBool("EINO_DEBUG_ENABLED", &c.EinoDebugEnabled)
	envInt("EINO_DEBUG_PORT", &c.EinoDebugPort)

	envString("LONGPORT_APP_KEY", &c.LongportAppKey)
	envString("LONGPORT_APP_SECRET", &c.LongportAppSecret)
	envString("LONGPORT_ACCESS_TOKEN", &c.LongportAccessToken)

	envString("DEEPSEEK_API_KEY", &c.DeepSeekAPIKey)
	envString("OPENAI_API_KEY", &c.OpenAIAPIKey)
	envString("CORTEXGO_FINNHUB_API_KEY", &c.FinnhubAPIKey)
	envString("CORTEXGO_REDDIT_CLIENT_ID", &c.RedditClientID)
	envString("CORTEXGO_REDDIT_SECRET", &c.RedditSecret)
	envString("REDDIT_USER_AGENT", &c.RedditUserAgent)

	envList("WATCHLIST", &c.Watchlist)
	envString("SCHEDULE_CRON", &c.ScheduleCron)
}

func (c Config) Validate() error {
	switch c.LLMProvider {
	case "deepseek", "openai":
	default:
		return fmt.Errorf("config: unsupported llm_provider %q", c.LLMProvider)
	}
	if c.MaxDebateRounds < 0 {
		return fmt.Errorf("config: max_debate_rounds must be >= 0")
	}
	if c.MaxRiskDiscussRounds < 0 {
		return fmt.Errorf("config: max_risk_rounds must be >= 0")
	}
	if c.MemoryTopK < 0 {
		return fmt.Errorf("config: memory_top_k must be >= 0")
	}
	if c.MemoryCapacity < 0 {
		return fmt.Errorf("config: memory_capacity must be >= 0")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("config: retry_max_attempts must be >= 1")
	}
	switch c.MemoryBackend {
	case MemoryBackendInMemory, MemoryBackendSQLite:
	case MemoryBackendPGVector:
		if strings.TrimSpace(c.MemoryDSN) == "" {
			return fmt.Errorf("config: memory_dsn is required for the pgvector backend")
		}
	default:
		return fmt.Errorf("config: unsupported memory_backend %q", c.MemoryBackend)
	}
	if _, err := ParseAnalystKinds(c.SelectedAnalysts); err != nil {
		return err
	}
	return nil
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.ResultsDir, c.DataDir, c.DataCacheDir, c.LogDir}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}
