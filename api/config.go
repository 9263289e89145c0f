package api

import "time"

type ServerConfig struct {
	DB    DBConfig
	Redis RedisConfig
	Sweep SweepConfig
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	StreamKeys RedisStreamKeys
}

// RedisStreamKeys names the outbound event streams: Notifications feeds
// the user-facing notification sink, External feeds the external-system
// notifier. Both are consumed outside this process.
type RedisStreamKeys struct {
	Notifications string
	External      string
}

type SweepConfig struct {
	Interval time.Duration
}
