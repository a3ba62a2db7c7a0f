package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	ServerPort     string        `yaml:"server_port"`
	ServerHost     string        `yaml:"server_host"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxRequestBody int64         `yaml:"max_request_body"`

	// Database
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`
	PostgresMaxOpenConns    int           `yaml:"postgres_max_open_conns"`
	PostgresMaxIdleConns    int           `yaml:"postgres_max_idle_conns"`
	PostgresConnMaxLifetime time.Duration `yaml:"postgres_conn_max_lifetime"`

	// Redis
	RedisHost     string `yaml:"redis_host"`
	RedisPort     string `yaml:"redis_port"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Kafka
	KafkaBrokers     []string `yaml:"kafka_brokers"`
	KafkaGroupID     string   `yaml:"kafka_group_id"`
	ImportEventTopic string   `yaml:"import_event_topic"`
	SearchStatsTopic string   `yaml:"search_stats_topic"`

	// API surface
	APIKey         string `yaml:"api_key"`
	ArtifactURIFmt string `yaml:"artifact_uri_fmt"`

	// Search
	SearchMaxItemsPerPage     int `yaml:"search_max_items_per_page"`
	SearchDefaultItemsPerPage int `yaml:"search_default_items_per_page"`

	// Sessions / identity providers. Userinfo endpoints are explicit
	// configuration rather than discovered and memoized at runtime.
	SessionTimeout          time.Duration `yaml:"session_timeout"`
	GithubUserEndpoint      string        `yaml:"github_user_endpoint"`
	GoogleUserinfoEndpoint  string        `yaml:"google_userinfo_endpoint"`
	CILogonUserinfoEndpoint string        `yaml:"cilogon_userinfo_endpoint"`
	IDPRequestTimeout       time.Duration `yaml:"idp_request_timeout"`

	// Import scheduler
	SchedulerPort            string        `yaml:"scheduler_port"`
	SchedulerTick            time.Duration `yaml:"scheduler_tick"`
	InstanceHeartbeatTimeout time.Duration `yaml:"instance_heartbeat_timeout"`

	// Stats
	RecentViewTTL time.Duration `yaml:"recent_view_ttl"`
}

func Load() *Config {
	cfg := &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "catalog"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "catalog123"),
		PostgresDB:       getEnv("POSTGRES_DB", "catalog"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		PostgresMaxOpenConns:    getIntEnv("POSTGRES_MAX_OPEN_CONNS", 25),
		PostgresMaxIdleConns:    getIntEnv("POSTGRES_MAX_IDLE_CONNS", 5),
		PostgresConnMaxLifetime: getDuration("POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:     getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "catalog-platform"),
		ImportEventTopic: getEnv("IMPORT_EVENT_TOPIC", "artifact-imports"),
		SearchStatsTopic: getEnv("SEARCH_STATS_TOPIC", "search-stats"),

		APIKey:         getEnv("API_KEY", ""),
		ArtifactURIFmt: getEnv("ARTIFACT_URI_FMT", "/artifact/%d/%d"),

		SearchMaxItemsPerPage:     getIntEnv("SEARCH_MAX_ITEMS_PER_PAGE", 20),
		SearchDefaultItemsPerPage: getIntEnv("SEARCH_DEFAULT_ITEMS_PER_PAGE", 10),

		SessionTimeout:          getDuration("SESSION_TIMEOUT", 2*time.Hour),
		GithubUserEndpoint:      getEnv("GITHUB_USER_ENDPOINT", "https://api.github.com/user"),
		GoogleUserinfoEndpoint:  getEnv("GOOGLE_USERINFO_ENDPOINT", "https://openidconnect.googleapis.com/v1/userinfo"),
		CILogonUserinfoEndpoint: getEnv("CILOGON_USERINFO_ENDPOINT", "https://cilogon.org/oauth2/userinfo"),
		IDPRequestTimeout:       getDuration("IDP_REQUEST_TIMEOUT", 10*time.Second),

		SchedulerPort:            getEnv("SCHEDULER_PORT", "8081"),
		SchedulerTick:            getDuration("SCHEDULER_TICK", 30*time.Second),
		InstanceHeartbeatTimeout: getDuration("INSTANCE_HEARTBEAT_TIMEOUT", 2*time.Minute),

		RecentViewTTL: getDuration("RECENT_VIEW_TTL", 24*time.Hour),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		applyFile(cfg, path)
	}

	return cfg
}

// applyFile overlays values from a YAML file onto the env-derived config.
// File values win so that one deployment artifact can pin a full config.
func applyFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = yaml.Unmarshal(data, cfg)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
