package config

type Config struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	// Broker selects the fan-out transport: "redis", "nats" or "memory".
	Broker   string `mapstructure:"broker"`
	RedisURL string `mapstructure:"redis_url"`
	NATSURL  string `mapstructure:"nats_url"`

	JWTSecret string `mapstructure:"jwt_secret"`

	MaxMessageLength int `mapstructure:"max_message_length"`
	HistoryPageSize  int `mapstructure:"history_page_size"`
}
