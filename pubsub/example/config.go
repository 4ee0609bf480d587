package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/infigaming-com/go-pubsub-worker/pubsub"
	"github.com/infigaming-com/go-pubsub-worker/util"
)

type Config struct {
	ProjectID    string           `mapstructure:"project_id"`
	Subscription string           `mapstructure:"subscription"`
	ResultTopic  string           `mapstructure:"result_topic"`
	Concurrency  int              `mapstructure:"concurrency"`
	Port         int64            `mapstructure:"port"`
	LogLevel     string           `mapstructure:"log_level"`
	OTLPEndpoint string           `mapstructure:"otlp_endpoint"`
	DedupeTTL    time.Duration    `mapstructure:"dedupe_ttl"`
	FlushEvery   time.Duration    `mapstructure:"flush_every"`
	Backend      pubsub.Config    `mapstructure:"backend"`
	Redis        util.RedisConfig `mapstructure:"redis"`
}

// loadConfig reads WORKER_* environment variables, e.g. WORKER_BACKEND_BUFFER_SIZE
// for backend.buffer_size.
func loadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := pubsub.DefaultConfig()
	// Every key needs a default for AutomaticEnv to reach Unmarshal.
	for key, value := range map[string]any{
		"project_id":                       "",
		"subscription":                     "jobs-worker",
		"result_topic":                     "job-results",
		"concurrency":                      pubsub.DefaultWorkerConcurrency,
		"port":                             8080,
		"log_level":                        "info",
		"otlp_endpoint":                    "",
		"dedupe_ttl":                       10 * time.Minute,
		"flush_every":                      time.Second,
		"backend.buffer_size":              defaults.BufferSize,
		"backend.max_message_size":         defaults.MaxMessageSize,
		"backend.max_outstanding_messages": 0,
		"backend.max_outstanding_bytes":    0,
		"backend.receive_goroutines":       0,
		"backend.manual_ack":               false,
		"redis.addr":                       "",
		"redis.password":                   "",
		"redis.db":                         0,
		"redis.connect_timeout":            5 * time.Second,
	} {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("WORKER_PROJECT_ID is required")
	}
	return &cfg, nil
}
