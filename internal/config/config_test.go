package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"countervm/internal/model"
	"countervm/internal/program"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("COUNTERVM_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:8899" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	id, err := cfg.Program()
	if err != nil || id != program.DefaultID {
		t.Fatalf("Program()=%v, %v", id, err)
	}
	if !cfg.CommitLog.SyncEveryAppend {
		t.Fatalf("SyncEveryAppend should default to true")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "countervm.yaml")
	yamlDoc := `
http_addr: 0.0.0.0:9000
data_dir: /var/lib/countervm
log_format: console
commit_log:
  flush_interval: 250ms
  buffer_bytes: 4096
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("COUNTERVM_CONFIG", path)
	t.Setenv("COUNTERVM_HTTP_ADDR", "127.0.0.1:7000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:7000" {
		t.Fatalf("env should override file, HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.DataDir != "/var/lib/countervm" || cfg.LogFormat != "console" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.CommitLog.FlushInterval != 250*time.Millisecond || cfg.CommitLog.BufferBytes != 4096 {
		t.Fatalf("commit log values not applied: %+v", cfg.CommitLog)
	}
	if cfg.CommitLog.EnqueueTimeout != 5*time.Second {
		t.Fatalf("unset file values should keep defaults, EnqueueTimeout=%v", cfg.CommitLog.EnqueueTimeout)
	}

	clc := cfg.CommitLogCfg()
	if clc.Path != filepath.Join("/var/lib/countervm", "commit.log") {
		t.Fatalf("commit log path=%q", clc.Path)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("COUNTERVM_CONFIG", "")

	t.Setenv("COUNTERVM_FLUSH_INTERVAL", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Fatalf("expected duration error")
	}
	t.Setenv("COUNTERVM_FLUSH_INTERVAL", "")

	t.Setenv("COUNTERVM_PROGRAM_ID", model.SystemProgramID.String())
	if _, err := Load(); err == nil {
		t.Fatalf("expected system program id to be rejected")
	}
	t.Setenv("COUNTERVM_PROGRAM_ID", "")

	t.Setenv("COUNTERVM_LOG_FORMAT", "xml")
	if _, err := Load(); err == nil {
		t.Fatalf("expected log format error")
	}
	t.Setenv("COUNTERVM_LOG_FORMAT", "")

	for _, key := range []string{"COUNTERVM_MAX_ENQUEUED", "COUNTERVM_BUFFER_BYTES"} {
		t.Setenv(key, "-1")
		if _, err := Load(); err == nil {
			t.Fatalf("expected %s=-1 to be rejected", key)
		}
		t.Setenv(key, "")
	}
	t.Setenv("COUNTERVM_ENQUEUE_TIMEOUT", "-1s")
	if _, err := Load(); err == nil {
		t.Fatalf("expected negative enqueue timeout to be rejected")
	}
}

func TestLoad_MaxEnqueuedFromEnv(t *testing.T) {
	t.Setenv("COUNTERVM_CONFIG", "")
	t.Setenv("COUNTERVM_MAX_ENQUEUED", "64")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.CommitLog.MaxEnqueued != 64 {
		t.Fatalf("MaxEnqueued=%d, want 64", cfg.CommitLog.MaxEnqueued)
	}
	if got := cfg.CommitLogCfg().MaxEnqueuingMutation; got != 64 {
		t.Fatalf("CommitLogCfg().MaxEnqueuingMutation=%d, want 64", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("COUNTERVM_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
