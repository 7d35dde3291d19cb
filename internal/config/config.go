package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const envPrefix = "HLSDL"

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Download struct {
		DataDir        string
		MaxConcurrent  int
		BatchSize      int
		RequestTimeout time.Duration
		UserAgent      string
		Upload         bool
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Auth struct {
		JWTSecret        string
		RegisterPassword string
		TokenTTLMinutes  int
	}
	Log struct {
		Level string
	}
}

// TokenTTL is the lifetime of issued API tokens.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

// LogLevel parses Log.Level, falling back to info for unknown names.
func (c Config) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth jwt secret is required (%s_AUTH_JWTSECRET)", envPrefix)
	}
	if strings.TrimSpace(c.Auth.RegisterPassword) == "" {
		return fmt.Errorf("auth registration password is required (%s_AUTH_REGISTERPASSWORD)", envPrefix)
	}
	if c.Download.Upload && c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required when uploads are enabled")
	}
	if c.Download.MaxConcurrent <= 0 || c.Download.BatchSize <= 0 {
		return fmt.Errorf("download concurrency and batch size must be positive")
	}
	return nil
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv(".env")

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// job directories are stored and served by path, keep them independent of the CWD
	dataDir, err := filepath.Abs(cfg.Download.DataDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.Download.DataDir = dataDir

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/hlsdl.db")
	v.SetDefault("download.datadir", "data/downloads")
	v.SetDefault("download.maxconcurrent", 3)
	v.SetDefault("download.batchsize", 10)
	v.SetDefault("download.requesttimeout", "30s")
	v.SetDefault("download.useragent", "")
	v.SetDefault("download.upload", false)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "hls-downloads")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.registerpassword", "")
	v.SetDefault("auth.tokenttlminutes", 1440)
	v.SetDefault("log.level", "info")
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		if !ok || key == "" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
