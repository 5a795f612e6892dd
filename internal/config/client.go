package config

import (
	"time"
)

// ClientConfig drives the driver-side messaging core.
type ClientConfig struct {
	ServerURL             string        `yaml:"server_url"`
	APIBaseURL            string        `yaml:"api_base_url"`
	Token                 string        `yaml:"token"`
	ConversationID        string        `yaml:"conversation_id"`
	Party                 string        `yaml:"party"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
	BannerTimeout         time.Duration `yaml:"banner_timeout"`
	SyncInterval          time.Duration `yaml:"sync_interval"`
	SyncTimeout           time.Duration `yaml:"sync_timeout"`
	NotificationRetention int           `yaml:"notification_retention"`
	TypingIdleTimeout     time.Duration `yaml:"typing_idle_timeout"`
	TypingRemoteTimeout   time.Duration `yaml:"typing_remote_timeout"`
	FlushOnReconnect      bool          `yaml:"flush_on_reconnect"`
	Reconnect             bool          `yaml:"reconnect"`
	ReconnectBaseDelay    time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts  int           `yaml:"reconnect_max_attempts"`
	StorageDriver         string        `yaml:"storage_driver"`
}

func loadClientConfig() *ClientConfig {
	return &ClientConfig{
		ServerURL:             getEnv("CAPTAIN_SERVER_URL", "ws://localhost:3000/ws"),
		APIBaseURL:            getEnv("CAPTAIN_API_BASE_URL", "http://localhost:3000/api/v1"),
		Token:                 getEnv("CAPTAIN_TOKEN", ""),
		ConversationID:        getEnv("CAPTAIN_CONVERSATION_ID", ""),
		Party:                 getEnv("CAPTAIN_PARTY", "driver"),
		ConnectTimeout:        getEnvAsDuration("CAPTAIN_CONNECT_TIMEOUT", 10*time.Second),
		BannerTimeout:         getEnvAsDuration("NOTIFICATION_BANNER_TIMEOUT", 4*time.Second),
		SyncInterval:          getEnvAsDuration("NOTIFICATION_SYNC_INTERVAL", 30*time.Second),
		SyncTimeout:           getEnvAsDuration("NOTIFICATION_SYNC_TIMEOUT", 10*time.Second),
		NotificationRetention: getEnvAsInt("NOTIFICATION_RETENTION", 200),
		TypingIdleTimeout:     getEnvAsDuration("TYPING_IDLE_TIMEOUT", 3*time.Second),
		TypingRemoteTimeout:   getEnvAsDuration("TYPING_REMOTE_TIMEOUT", 0),
		FlushOnReconnect:      getEnvAsBool("CHAT_FLUSH_ON_RECONNECT", false),
		Reconnect:             getEnvAsBool("CAPTAIN_RECONNECT", false),
		ReconnectBaseDelay:    getEnvAsDuration("CAPTAIN_RECONNECT_BASE_DELAY", time.Second),
		ReconnectMaxDelay:     getEnvAsDuration("CAPTAIN_RECONNECT_MAX_DELAY", 30*time.Second),
		ReconnectMaxAttempts:  getEnvAsInt("CAPTAIN_RECONNECT_MAX_ATTEMPTS", 10),
		StorageDriver:         getEnv("CAPTAIN_STORAGE_DRIVER", "memory"),
	}
}
