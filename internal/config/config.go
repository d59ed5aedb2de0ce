package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"countervm/internal/engine"
	"countervm/internal/model"
	"countervm/internal/program"
)

// Config is the server configuration. Values come from an optional YAML file
// named by COUNTERVM_CONFIG, then COUNTERVM_* environment variables.
type Config struct {
	HTTPAddr      string          `yaml:"http_addr"`
	DataDir       string          `yaml:"data_dir"`
	ProgramID     string          `yaml:"program_id"`
	MaxRecordSize int             `yaml:"max_record_size"`
	LogLevel      string          `yaml:"log_level"`
	LogFormat     string          `yaml:"log_format"`
	CommitLog     CommitLogConfig `yaml:"commit_log"`
}

type CommitLogConfig struct {
	FlushInterval   time.Duration `yaml:"flush_interval"`
	EnqueueTimeout  time.Duration `yaml:"enqueue_timeout"`
	MaxEnqueued     int           `yaml:"max_enqueued"`
	BufferBytes     int           `yaml:"buffer_bytes"`
	SyncEveryAppend bool          `yaml:"sync_every_append"`
}

const commitLogFile = "commit.log"

func Default() Config {
	return Config{
		HTTPAddr:      "127.0.0.1:8899",
		DataDir:       "data",
		ProgramID:     program.DefaultID.String(),
		MaxRecordSize: engine.DefaultMaxRecordSize,
		LogLevel:      "info",
		LogFormat:     "json",
		CommitLog: CommitLogConfig{
			FlushInterval:   time.Second,
			EnqueueTimeout:  5 * time.Second,
			MaxEnqueued:     1024,
			BufferBytes:     4 * 1024 * 1024,
			SyncEveryAppend: true,
		},
	}
}

// Load builds the configuration from defaults, the YAML file and the environment.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("COUNTERVM_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = envOrDefault("COUNTERVM_HTTP_ADDR", c.HTTPAddr)
	c.DataDir = envOrDefault("COUNTERVM_DATA_DIR", c.DataDir)
	c.ProgramID = envOrDefault("COUNTERVM_PROGRAM_ID", c.ProgramID)
	c.LogLevel = envOrDefault("COUNTERVM_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("COUNTERVM_LOG_FORMAT", c.LogFormat)

	var err error
	if c.MaxRecordSize, err = envInt("COUNTERVM_MAX_RECORD_SIZE", c.MaxRecordSize); err != nil {
		return err
	}
	if c.CommitLog.FlushInterval, err = envDuration("COUNTERVM_FLUSH_INTERVAL", c.CommitLog.FlushInterval); err != nil {
		return err
	}
	if c.CommitLog.EnqueueTimeout, err = envDuration("COUNTERVM_ENQUEUE_TIMEOUT", c.CommitLog.EnqueueTimeout); err != nil {
		return err
	}
	if c.CommitLog.MaxEnqueued, err = envInt("COUNTERVM_MAX_ENQUEUED", c.CommitLog.MaxEnqueued); err != nil {
		return err
	}
	if c.CommitLog.BufferBytes, err = envInt("COUNTERVM_BUFFER_BYTES", c.CommitLog.BufferBytes); err != nil {
		return err
	}
	if c.CommitLog.SyncEveryAppend, err = envBool("COUNTERVM_SYNC_EVERY_APPEND", c.CommitLog.SyncEveryAppend); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if _, err := c.Program(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxRecordSize <= 0 {
		errs = append(errs, fmt.Errorf("max_record_size must be positive, got %d", c.MaxRecordSize))
	}
	if c.CommitLog.MaxEnqueued < 0 {
		errs = append(errs, fmt.Errorf("commit_log.max_enqueued must not be negative, got %d", c.CommitLog.MaxEnqueued))
	}
	if c.CommitLog.BufferBytes < 0 {
		errs = append(errs, fmt.Errorf("commit_log.buffer_bytes must not be negative, got %d", c.CommitLog.BufferBytes))
	}
	if c.CommitLog.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("commit_log.flush_interval must not be negative, got %s", c.CommitLog.FlushInterval))
	}
	if c.CommitLog.EnqueueTimeout < 0 {
		errs = append(errs, fmt.Errorf("commit_log.enqueue_timeout must not be negative, got %s", c.CommitLog.EnqueueTimeout))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log_format must be json or console, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Program returns the address the counter program is registered at.
func (c Config) Program() (model.Address, error) {
	addr, err := model.ParseAddress(c.ProgramID)
	if err != nil {
		return model.Address{}, fmt.Errorf("program_id: %w", err)
	}
	if addr == model.SystemProgramID {
		return model.Address{}, errors.New("program_id must not be the system program")
	}
	return addr, nil
}

// CommitLogCfg translates the commit log section for the engine.
func (c Config) CommitLogCfg() engine.CommitLogCfg {
	return engine.CommitLogCfg{
		Path:                 filepath.Join(c.DataDir, commitLogFile),
		EnqueueTimeout:       c.CommitLog.EnqueueTimeout,
		FlushInterval:        c.CommitLog.FlushInterval,
		MaxEnqueuingMutation: c.CommitLog.MaxEnqueued,
		BufferBytes:          c.CommitLog.BufferBytes,
		SyncEveryAppend:      c.CommitLog.SyncEveryAppend,
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
