package di

import (
	"context"
	"fmt"
	"time"

	"daa-assistant/backend/ai"
	historyrepo "daa-assistant/backend/conversation/repository"
	historysvc "daa-assistant/backend/conversation/service"
	"daa-assistant/backend/internal/capabilities"
	"daa-assistant/backend/internal/enrichment"
	"daa-assistant/backend/internal/integrations/calendar"
	"daa-assistant/backend/internal/integrations/fitness"
	"daa-assistant/backend/internal/integrations/homeassistant"
	"daa-assistant/backend/internal/integrations/httpclient"
	"daa-assistant/backend/internal/integrations/sensor"
	"daa-assistant/backend/internal/integrations/weather"
	"daa-assistant/backend/internal/prompt"
	"daa-assistant/backend/internal/service"
	"daa-assistant/backend/internal/ws"
	"daa-assistant/backend/pkg/config"
	"daa-assistant/backend/pkg/health"
	"daa-assistant/backend/pkg/logger"
	"daa-assistant/backend/pkg/secrets"
	"daa-assistant/backend/pkg/speech"
	"daa-assistant/backend/shared/observability"
	"daa-assistant/backend/shared/redis"

	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config       *config.Config
	DB           *gorm.DB
	Logger       *logger.Logger
	Secrets      *secrets.VaultManager
	Metrics      *observability.Metrics
	History      *historysvc.HistoryService
	Enrichment   *enrichment.Cache
	Tools        *ai.ToolTable
	Router       *ai.Router
	Chat         *service.ChatService
	Hub          *ws.Hub
	Health       *health.Checker
	Integrations capabilities.Integrations

	redis *redis.RedisClient
}

// New wires every component from cfg. Integrations without credentials are
// left out; only the database is required.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: log, Metrics: observability.NewMetrics()}

	vault, err := secrets.NewVaultManager(secrets.VaultConfig{
		Enabled:     cfg.Vault.Enabled,
		Address:     cfg.Vault.Addr,
		Token:       cfg.Vault.Token,
		Mount:       cfg.Vault.Mount,
		SecretsPath: cfg.Vault.SecretsPath,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets manager: %w", err)
	}
	c.Secrets = vault
	if applied := secrets.Overlay(ctx, vault, log, credentialTargets(cfg)); len(applied) > 0 {
		log.Info("credentials resolved from secrets manager", "keys", applied)
	}

	db, err := config.NewDB(cfg)
	if err != nil {
		return nil, err
	}
	repo := historyrepo.NewGormMessageRepository(db)
	if err := repo.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate history store: %w", err)
	}
	c.DB = db
	c.History = historysvc.NewHistoryService(repo, log,
		historysvc.WithMemoryMode(cfg.History.MemoryMode),
		historysvc.WithDefaultLimit(cfg.History.Limit),
	)

	formatter := speech.NewFormatter(speech.LocaleFor(cfg.Assistant.SpeechLocale))
	c.Integrations = c.buildIntegrations(ctx, cfg, formatter)

	c.Tools = ai.NewToolTable()
	names, err := capabilities.RegisterTools(c.Tools, c.Integrations)
	if err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	log.Info("tools registered", "tools", names)

	c.Enrichment = enrichment.New(log,
		capabilities.EnrichmentSources(c.Integrations, capabilities.TTLs{
			Health:   cfg.Enrichment.HealthTTL,
			Activity: cfg.Enrichment.ActivityTTL,
			Sensor:   cfg.Enrichment.SensorTTL,
			Calendar: cfg.Enrichment.CalendarTTL,
			Weather:  cfg.Enrichment.WeatherTTL,
		}),
		enrichment.WithFetchTimeout(cfg.Enrichment.FetchTimeout),
		enrichment.WithMetrics(c.Metrics),
	)

	c.Router = buildRouter(cfg, c.Tools, log)
	log.Info("providers configured", "providers", c.Router.Providers())

	system, err := prompt.LoadSystemPrompt(cfg.Assistant.SystemPromptFile, cfg.Assistant.UserName)
	if err != nil {
		return nil, err
	}

	c.Chat = service.NewChatService(
		c.History,
		c.Enrichment,
		prompt.NewAssembler(formatter, c.Tools),
		c.Router,
		log,
		service.WithSystemPrompt(system),
		service.WithHistoryLimit(cfg.History.Limit),
		service.WithChatMetrics(c.Metrics),
	)
	c.Hub = ws.NewHub(c.Chat, log)
	c.Health = c.buildHealth(cfg)

	return c, nil
}

func credentialTargets(cfg *config.Config) map[string]*string {
	return map[string]*string{
		"google_api_key":         &cfg.Providers.GoogleAPIKey,
		"openai_api_key":         &cfg.Providers.OpenAIAPIKey,
		"anthropic_api_key":      &cfg.Providers.AnthropicAPIKey,
		"ha_token":               &cfg.HomeAssistant.Token,
		"db_password":            &cfg.Database.Password,
		"redis_password":         &cfg.Redis.Password,
		"strava_client_secret":   &cfg.Strava.ClientSecret,
		"strava_refresh_token":   &cfg.Strava.RefreshToken,
		"withings_client_secret": &cfg.Withings.ClientSecret,
		"withings_refresh_token": &cfg.Withings.RefreshToken,
	}
}

func (c *Container) buildIntegrations(ctx context.Context, cfg *config.Config, formatter *speech.Formatter) capabilities.Integrations {
	client := httpclient.New(httpclient.Options{
		Limit:   cfg.Integrations.RateLimit,
		Burst:   cfg.Integrations.RateBurst,
		Timeout: cfg.Integrations.Timeout,
	}, c.Logger)

	in := capabilities.Integrations{
		Weather:       weather.NewClient(cfg.Weather.BaseURL, client, weather.WithLocation(time.Local)),
		Strava:        fitness.NewStravaClient(cfg.Strava.BaseURL, cfg.Strava.ClientID, cfg.Strava.ClientSecret, cfg.Strava.RefreshToken, client),
		Withings:      fitness.NewWithingsClient(cfg.Withings.BaseURL, cfg.Withings.ClientID, cfg.Withings.ClientSecret, cfg.Withings.RefreshToken, client),
		Speech:        formatter,
		Latitude:      cfg.Weather.Latitude,
		Longitude:     cfg.Weather.Longitude,
		IndoorSensors: cfg.Enrichment.IndoorSensors,
		Location:      time.Local,
	}

	if cfg.HomeAssistant.BaseURL != "" && cfg.HomeAssistant.Token != "" {
		in.HomeAssistant = homeassistant.NewClient(cfg.HomeAssistant.BaseURL, cfg.HomeAssistant.Token, client, formatter)
	}

	switch cfg.Sensors.Bus {
	case "redis":
		c.redis = redis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		in.Sensors = sensor.NewRedisReader(c.redis, cfg.Redis.KeyPrefix)
	case "mqtt":
		if cfg.MQTT.Broker != "" {
			in.Sensors = sensor.NewMQTTReader(cfg.MQTT.Broker, cfg.MQTT.Port, cfg.MQTT.TopicBase, cfg.MQTT.Timeout, c.Logger)
		}
	default:
		c.Logger.Warn("unknown sensor bus, sensors disabled", "bus", cfg.Sensors.Bus)
	}

	if cfg.Calendar.ServiceAccountFile != "" {
		cal, err := calendar.NewClient(ctx, cfg.Calendar.ServiceAccountFile, cfg.Calendar.CalendarID)
		if err != nil {
			c.Logger.LogError(err, "calendar disabled")
		} else {
			cal.SetClock(time.Now, time.Local)
			in.Calendar = cal
		}
	}

	return in
}

func buildRouter(cfg *config.Config, tools *ai.ToolTable, log *logger.Logger) *ai.Router {
	p := cfg.Providers
	fallback := ai.NewOllamaAdapter(p.OllamaURL, p.OllamaDefaultModel, log)

	var opts []ai.RouterOption
	if p.GoogleAPIKey != "" {
		opts = append(opts, ai.WithAdapter(ai.NewGeminiAdapter(p.GoogleAPIKey, p.GeminiBaseURL, tools, log)))
	}
	if p.OpenAIAPIKey != "" {
		opts = append(opts, ai.WithAdapter(ai.NewOpenAIAdapter(p.OpenAIAPIKey, p.OpenAIBaseURL, tools, log)))
	}
	if p.AnthropicAPIKey != "" {
		opts = append(opts, ai.WithAdapter(ai.NewAnthropicAdapter(p.AnthropicAPIKey, p.AnthropicBaseURL, p.AnthropicMaxTokens, tools, log)))
	}
	return ai.NewRouter(fallback, log, opts...)
}

func (c *Container) buildHealth(cfg *config.Config) *health.Checker {
	checker := health.NewChecker(c.Logger, time.Minute)
	checker.RegisterDatabaseCheck(func() error { return config.TestConnection(c.DB) })
	checker.RegisterAPICheck("ollama", cfg.Providers.OllamaURL+"/api/tags", nil)

	if c.Integrations.Sensors != nil {
		checker.RegisterPingCheck("sensor-bus", c.Integrations.Sensors.Ping)
	}
	if c.Integrations.HomeAssistant.Configured() {
		checker.RegisterPingCheck("home-assistant", c.Integrations.HomeAssistant.Ping)
	}
	if c.Integrations.Calendar != nil {
		checker.RegisterPingCheck("calendar", c.Integrations.Calendar.Ping)
	}
	if c.Secrets.Enabled() {
		checker.RegisterPingCheck("vault", c.Secrets.Ping)
	}
	return checker
}

// Close releases background resources.
func (c *Container) Close() {
	if c.Secrets != nil {
		c.Secrets.Close()
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.Logger.LogError(err, "failed to close redis client")
		}
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
