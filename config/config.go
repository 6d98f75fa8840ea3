package config

import (
	"log"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Relational catalog
	MySQLURI string

	// Document store
	MongoURI string
	MongoDB  string

	// Kafka
	KafkaServers              string
	KafkaSecurity             string
	KafkaMechanism            string
	KafkaUsername             string
	KafkaPassword             string
	KafkaGroupID              string
	KafkaAutoOffsetReset      string
	KafkaEnableAutoCommit     bool
	KafkaAutoCommitIntervalMS int
	KafkaSessionTimeoutMS     int
	KafkaRequestTimeoutMS     int

	// SmartTyre API
	SmartTyreBaseURL      string
	SmartTyreClientID     string
	SmartTyreClientSecret string
	SmartTyreSignKey      string

	// HTTP
	ListenAddr  string
	MetricsAddr string

	// Optional ops webhook for raised alerts
	AlertWebhookURL string
}

// Load reads configuration from environment variables. Required keys that are
// absent abort the process at startup.
func Load() *Config {
	return &Config{
		MySQLURI: mustEnv("MYSQL_URI"),

		MongoURI: mustEnv("MONGO_URI"),
		MongoDB:  getEnv("MONGO_DB", "Quinta"),

		KafkaServers:              mustEnv("KAFKA_SERVERS"),
		KafkaSecurity:             getEnv("KAFKA_SECURITY", ""),
		KafkaMechanism:            getEnv("KAFKA_MECHANISM", ""),
		KafkaUsername:             getEnv("KAFKA_USERNAME", ""),
		KafkaPassword:             getEnv("KAFKA_PASSWORD", ""),
		KafkaGroupID:              mustEnv("KAFKA_GROUP_ID"),
		KafkaAutoOffsetReset:      getEnv("KAFKA_AUTO_OFFSET_RESET", "latest"),
		KafkaEnableAutoCommit:     getEnvBool("KAFKA_ENABLE_AUTO_COMMIT", true),
		KafkaAutoCommitIntervalMS: getEnvInt("KAFKA_AUTO_COMMIT_INTERVAL_MS", 1000),
		KafkaSessionTimeoutMS:     getEnvInt("KAFKA_SESSION_TIMEOUT_MS", 120000),
		KafkaRequestTimeoutMS:     getEnvInt("KAFKA_REQUEST_TIMEOUT_MS", 180000),

		SmartTyreBaseURL:      mustEnv("SMARTTYRE_BASE_URL"),
		SmartTyreClientID:     mustEnv("SMARTTYRE_CLIENT_ID"),
		SmartTyreClientSecret: mustEnv("SMARTTYRE_CLIENT_SECRET"),
		SmartTyreSignKey:      mustEnv("SMARTTYRE_SIGN_KEY"),

		ListenAddr:  getEnv("LISTEN_ADDR", ":8000"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		AlertWebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] ignoring invalid integer for %s: %q", key, v)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] ignoring invalid boolean for %s: %q", key, v)
		return fallback
	}
	return b
}
