package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Memory modes for history retrieval
const (
	MemorySession = "session"
	MemoryGlobal  = "global"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
		// Per-client limit on chat turns, requests per second
		ChatRateLimit float64
		ChatRateBurst int
	}

	// Database configuration
	Database struct {
		Driver   string
		Path     string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// History retrieval
	History struct {
		Limit      int
		MemoryMode string
	}

	// LLM providers
	Providers struct {
		GoogleAPIKey       string
		GeminiBaseURL      string
		OpenAIAPIKey       string
		OpenAIBaseURL      string
		AnthropicAPIKey    string
		AnthropicBaseURL   string
		AnthropicMaxTokens int
		OllamaURL          string
		OllamaDefaultModel string
	}

	// Context enrichment
	Enrichment struct {
		FetchTimeout  time.Duration
		HealthTTL     time.Duration
		ActivityTTL   time.Duration
		SensorTTL     time.Duration
		CalendarTTL   time.Duration
		WeatherTTL    time.Duration
		IndoorSensors []string
	}

	HomeAssistant struct {
		BaseURL string
		Token   string
	}

	// Sensor bus: "mqtt" or "redis"
	Sensors struct {
		Bus string
	}

	MQTT struct {
		Broker    string
		Port      int
		TopicBase string
		Timeout   time.Duration
	}

	Redis struct {
		Addr      string
		Password  string
		DB        int
		KeyPrefix string
	}

	Calendar struct {
		ServiceAccountFile string
		CalendarID         string
	}

	Weather struct {
		Latitude  float64
		Longitude float64
		BaseURL   string
	}

	Strava struct {
		ClientID     string
		ClientSecret string
		RefreshToken string
		BaseURL      string
	}

	Withings struct {
		ClientID     string
		ClientSecret string
		RefreshToken string
		BaseURL      string
	}

	// Outbound integration calls
	Integrations struct {
		RateLimit float64
		RateBurst int
		Timeout   time.Duration
	}

	Vault struct {
		Enabled     bool
		Addr        string
		Token       string
		Mount       string
		SecretsPath string
	}

	Assistant struct {
		UserName         string
		SpeechLocale     string
		SystemPromptFile string
	}

	Observability struct {
		TracingEnabled bool
		MetricsAddr    string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()
		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load reads a fresh Config from the environment without touching the singleton.
func Load() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "8000")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	cfg.Server.ChatRateLimit = getEnvFloat("CHAT_RATE_LIMIT", 1)
	cfg.Server.ChatRateBurst = getEnvInt("CHAT_RATE_BURST", 5)

	cfg.Database.Driver = getEnvString("DB_DRIVER", "sqlite")
	cfg.Database.Path = getEnvString("DB_PATH", "data/history.db")
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "daa")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.History.Limit = clamp(getEnvInt("HISTORY_LIMIT", 100), 1, 600)
	cfg.History.MemoryMode = strings.ToLower(getEnvString("HISTORY_MEMORY_MODE", MemorySession))
	if cfg.History.MemoryMode != MemoryGlobal {
		cfg.History.MemoryMode = MemorySession
	}

	cfg.Providers.GoogleAPIKey = getEnvString("GOOGLE_API_KEY", "")
	cfg.Providers.GeminiBaseURL = getEnvString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")
	cfg.Providers.OpenAIAPIKey = getEnvString("OPENAI_API_KEY", "")
	cfg.Providers.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", "")
	cfg.Providers.AnthropicAPIKey = getEnvString("ANTHROPIC_API_KEY", "")
	cfg.Providers.AnthropicBaseURL = getEnvString("ANTHROPIC_BASE_URL", "https://api.anthropic.com")
	cfg.Providers.AnthropicMaxTokens = getEnvInt("ANTHROPIC_MAX_TOKENS", 2048)
	cfg.Providers.OllamaURL = getEnvString("OLLAMA_URL", "http://localhost:11434")
	cfg.Providers.OllamaDefaultModel = getEnvString("OLLAMA_DEFAULT_MODEL", "llama3.1:8b")

	cfg.Enrichment.FetchTimeout = getEnvDuration("ENRICHMENT_FETCH_TIMEOUT", 5*time.Second)
	cfg.Enrichment.HealthTTL = getEnvDuration("ENRICHMENT_HEALTH_TTL", 15*time.Minute)
	cfg.Enrichment.ActivityTTL = getEnvDuration("ENRICHMENT_ACTIVITY_TTL", 5*time.Minute)
	cfg.Enrichment.SensorTTL = getEnvDuration("ENRICHMENT_SENSOR_TTL", time.Minute)
	cfg.Enrichment.CalendarTTL = getEnvDuration("ENRICHMENT_CALENDAR_TTL", 5*time.Minute)
	cfg.Enrichment.WeatherTTL = getEnvDuration("ENRICHMENT_WEATHER_TTL", 10*time.Minute)
	cfg.Enrichment.IndoorSensors = getEnvStringSlice("INDOOR_SENSORS", []string{"Vardagsrum", "Sovrum"})

	cfg.HomeAssistant.BaseURL = strings.TrimRight(getEnvString("HA_BASE_URL", ""), "/")
	cfg.HomeAssistant.Token = getEnvString("HA_TOKEN", "")

	cfg.Sensors.Bus = strings.ToLower(getEnvString("SENSOR_BUS", "mqtt"))

	cfg.MQTT.Broker = getEnvString("MQTT_BROKER", "localhost")
	cfg.MQTT.Port = getEnvInt("MQTT_PORT", 1883)
	cfg.MQTT.TopicBase = getEnvString("MQTT_TOPIC_BASE", "zigbee2mqtt")
	cfg.MQTT.Timeout = getEnvDuration("MQTT_TIMEOUT", 2*time.Second)

	cfg.Redis.Addr = getEnvString("REDIS_URL", "localhost:6379")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.KeyPrefix = getEnvString("REDIS_SENSOR_PREFIX", "zigbee2mqtt/")

	cfg.Calendar.ServiceAccountFile = getEnvString("CALENDAR_SERVICE_ACCOUNT_FILE", "")
	cfg.Calendar.CalendarID = getEnvString("CALENDAR_ID", "primary")

	cfg.Weather.Latitude = getEnvFloat("LATITUDE", 59.3293)
	cfg.Weather.Longitude = getEnvFloat("LONGITUDE", 18.0686)
	cfg.Weather.BaseURL = getEnvString("SMHI_BASE_URL", "https://opendata-download-metfcst.smhi.se")

	cfg.Strava.ClientID = getEnvString("STRAVA_CLIENT_ID", "")
	cfg.Strava.ClientSecret = getEnvString("STRAVA_CLIENT_SECRET", "")
	cfg.Strava.RefreshToken = getEnvString("STRAVA_REFRESH_TOKEN", "")
	cfg.Strava.BaseURL = getEnvString("STRAVA_BASE_URL", "https://www.strava.com")

	cfg.Withings.ClientID = getEnvString("WITHINGS_CLIENT_ID", "")
	cfg.Withings.ClientSecret = getEnvString("WITHINGS_CLIENT_SECRET", "")
	cfg.Withings.RefreshToken = getEnvString("WITHINGS_REFRESH_TOKEN", "")
	cfg.Withings.BaseURL = getEnvString("WITHINGS_BASE_URL", "https://wbsapi.withings.net")

	cfg.Integrations.RateLimit = getEnvFloat("INTEGRATION_RATE_LIMIT", 5)
	cfg.Integrations.RateBurst = getEnvInt("INTEGRATION_RATE_BURST", 10)
	cfg.Integrations.Timeout = getEnvDuration("INTEGRATION_TIMEOUT", 10*time.Second)

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Addr = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Mount = getEnvString("VAULT_MOUNT", "secret")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "daa")

	cfg.Assistant.UserName = getEnvString("ASSISTANT_USER_NAME", "Anders")
	cfg.Assistant.SpeechLocale = getEnvString("SPEECH_LOCALE", "sv")
	cfg.Assistant.SystemPromptFile = getEnvString("SYSTEM_PROMPT_FILE", "")

	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.Observability.MetricsAddr = getEnvString("METRICS_ADDR", ":2112")

	return cfg
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
