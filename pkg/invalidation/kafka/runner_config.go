package kafka

import (
	"time"

	"github.com/mohammed-shakir/geo-udf/internal/core/config"
)

type InvalidationConfig struct {
	Enabled bool

	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
}

// FromConfig fills consumer timings around the event settings.
func FromConfig(ev config.EventsCfg) InvalidationConfig {
	return InvalidationConfig{
		Enabled:          ev.Enabled,
		Brokers:          ev.Brokers,
		Topic:            ev.Topic,
		GroupID:          ev.GroupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		InitialOldest:    false,
	}
}
