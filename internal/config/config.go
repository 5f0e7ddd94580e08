package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	AutoMigrate             bool
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	SettingsCacheTTLSeconds int
	AuthSecret              string
	AccessTokenTTLMinutes   int
	LogLevel                string
	LogFormat               string
	LoginAttemptsPerMinute  int
	SeedAdminPassword       string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	applyDefaults(v)

	cfg := Config{
		Port:                    v.GetString("PORT"),
		AllowedOrigin:           v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:             strings.TrimSpace(v.GetString("DATABASE_URL")),
		AutoMigrate:             v.GetBool("AUTO_MIGRATE"),
		RedisAddr:               strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:           v.GetString("REDIS_PASSWORD"),
		RedisDB:                 v.GetInt("REDIS_DB"),
		SettingsCacheTTLSeconds: v.GetInt("SETTINGS_CACHE_TTL_SECONDS"),
		AuthSecret:              strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes:   v.GetInt("ACCESS_TOKEN_TTL_MINUTES"),
		LogLevel:                v.GetString("LOG_LEVEL"),
		LogFormat:               v.GetString("LOG_FORMAT"),
		LoginAttemptsPerMinute:  v.GetInt("LOGIN_ATTEMPTS_PER_MINUTE"),
		SeedAdminPassword:       v.GetString("SEED_ADMIN_PASSWORD"),
	}

	if cfg.SettingsCacheTTLSeconds < 1 {
		cfg.SettingsCacheTTLSeconds = 300
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.LoginAttemptsPerMinute < 1 {
		cfg.LoginAttemptsPerMinute = 5
	}
	return cfg
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SETTINGS_CACHE_TTL_SECONDS", 300)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOGIN_ATTEMPTS_PER_MINUTE", 5)
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
