package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config contains all runtime settings for the poll engine
type Config struct {
	BindAddr         string
	DBPath           string
	LogLevel         string
	MetricsNamespace string

	// CommandPrefix is the string that marks a chat line as a command,
	// e.g. "!" for "!poll 10s red blue".
	CommandPrefix string

	// OnlyOnlineUsersCount discards a voter's cast vote when they leave
	// the channel before the poll ends.
	OnlyOnlineUsersCount bool

	// OnlyRegisteredMayVote ignores votes from senders below the
	// registered permission level.
	OnlyRegisteredMayVote bool

	// ForbidPrefixedChoices rejects poll choices that start with the
	// command prefix, since such choices could never be voted for.
	ForbidPrefixedChoices bool
}

// Load reads environment variables and applies safe defaults
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("CHANPOLL_BIND_ADDR", ":8080"),
		DBPath:           envOrDefault("CHANPOLL_DB_PATH", "chanpoll.db"),
		LogLevel:         envOrDefault("CHANPOLL_LOG_LEVEL", "info"),
		MetricsNamespace: envOrDefault("CHANPOLL_METRICS_NAMESPACE", "chanpoll"),
		CommandPrefix:    envOrDefault("CHANPOLL_COMMAND_PREFIX", "!"),
	}

	var err error
	if cfg.OnlyOnlineUsersCount, err = boolOrDefault("CHANPOLL_ONLY_ONLINE_USERS_COUNT", false); err != nil {
		return Config{}, err
	}
	if cfg.OnlyRegisteredMayVote, err = boolOrDefault("CHANPOLL_ONLY_REGISTERED_MAY_VOTE", false); err != nil {
		return Config{}, err
	}
	if cfg.ForbidPrefixedChoices, err = boolOrDefault("CHANPOLL_FORBID_PREFIXED_CHOICES", true); err != nil {
		return Config{}, err
	}

	if cfg.CommandPrefix == "" {
		return Config{}, fmt.Errorf("CHANPOLL_COMMAND_PREFIX must not be empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolOrDefault(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: expected a boolean, got %q", key, v)
	}
	return parsed, nil
}
