package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8000 {
		t.Errorf("server = %s:%d, want 127.0.0.1:8000", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Search.DefaultLimit != 5 || cfg.Search.MaxLimit != 50 || cfg.Search.DefaultMinScore != 0.3 {
		t.Errorf("search defaults = %+v", cfg.Search)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"empty data dir", func(c *Config) { c.Data.Dir = "" }, "data directory"},
		{"unknown vectorstore", func(c *Config) { c.VectorStore.Provider = "faiss" }, "unsupported vectorstore provider"},
		{"qdrant without host", func(c *Config) {
			c.VectorStore.Provider = "qdrant"
			c.VectorStore.Qdrant.Host = ""
		}, "qdrant host"},
		{"unknown embeddings", func(c *Config) { c.Embeddings.Provider = "word2vec" }, "unsupported embeddings provider"},
		{"tei without url", func(c *Config) { c.Embeddings.Provider = "tei" }, "base_url"},
		{"default limit above max", func(c *Config) { c.Search.DefaultLimit = 60 }, "default_limit"},
		{"min score above one", func(c *Config) { c.Search.DefaultMinScore = 1.5 }, "default_min_score"},
		{"events without url", func(c *Config) {
			c.Events.Enabled = true
			c.Events.URL = ""
		}, "events url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", d.Duration())
	}
	if err := d.UnmarshalText([]byte("-1s")); err == nil {
		t.Error("negative duration accepted")
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("garbage duration accepted")
	}
}

func TestSecret_Redacted(t *testing.T) {
	s := Secret("sk-live-123")

	if got := fmt.Sprintf("%v %s %#v", s, s, s); strings.Contains(got, "sk-live") {
		t.Errorf("formatted secret leaked: %q", got)
	}
	data, err := json.Marshal(struct{ Key Secret }{s})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-live") {
		t.Errorf("JSON leaked secret: %s", data)
	}
	if s.Value() != "sk-live-123" || !s.IsSet() {
		t.Error("Value/IsSet do not expose the raw secret")
	}
	if Secret("").String() != "" {
		t.Error("empty secret should print empty")
	}
}
