// Package config reads the process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type EventsCfg struct {
	Enabled bool
	Topic   string
	Brokers []string
	GroupID string
}

type S3Cfg struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string
}

type Config struct {
	Addr           string
	LogLevel       string
	LogConsole     bool
	LogSampleN     int
	StorageRoot    string
	ModelCacheSize int
	FetchTimeout   time.Duration
	RedisAddr      string
	CatalogEnabled bool
	H3Res          int
	Events         EventsCfg
	S3             S3Cfg
}

func FromEnv() Config {
	res := getint("H3_RES", 8)
	if res < 0 || res > 15 {
		res = 8
	}

	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		LogSampleN:     getint("LOG_SAMPLE_N", 0),
		StorageRoot:    getenv("MODEL_STORAGE_ROOT", "/var/lib/udf/models"),
		ModelCacheSize: getint("MODEL_CACHE_SIZE", 64),
		FetchTimeout:   getduration("FETCH_TIMEOUT", 30*time.Second),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		CatalogEnabled: getbool("CATALOG_ENABLED", false),
		H3Res:          res,
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "udf-model-store"),
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			GroupID: getenv("KAFKA_GROUP_ID", "udf-model-cache"),
		},
		S3: S3Cfg{
			Endpoint:  getenv("S3_ENDPOINT", ""),
			AccessKey: getenv("S3_ACCESS_KEY", ""),
			SecretKey: getenv("S3_SECRET_KEY", ""),
			Secure:    getbool("S3_SECURE", true),
			Region:    getenv("S3_REGION", "us-east-1"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
