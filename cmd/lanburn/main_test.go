package main

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kmarchuk/lanburn/internal/config"
)

func TestToRunConfigMapsFields(t *testing.T) {
	cfg := &config.Config{
		TargetHost:      "192.168.1.10",
		TargetPort:      8080,
		Protocol:        config.ProtocolTCP,
		Concurrency:     12,
		Rate:            500,
		Duration:        time.Minute,
		MaxOperations:   10_000,
		Timeout:         2 * time.Second,
		SlowConnections: 99,
		SlowInterval:    3 * time.Second,
	}

	rc := toRunConfig(cfg)
	if rc.Host != "192.168.1.10" || rc.Port != 8080 {
		t.Fatalf("target mapping wrong: %s:%d", rc.Host, rc.Port)
	}
	if rc.Protocol != config.ProtocolTCP {
		t.Fatalf("protocol mapping wrong: %s", rc.Protocol)
	}
	if rc.Concurrency != 12 || rc.Rate != 500 || rc.MaxOperations != 10_000 {
		t.Fatalf("limits mapping wrong: %+v", rc)
	}
	if rc.SlowConnections != 99 || rc.SlowInterval != 3*time.Second {
		t.Fatalf("slow settings mapping wrong: %+v", rc)
	}
}

func TestToRunInfoMapsFields(t *testing.T) {
	cfg := &config.Config{
		TargetHost:  "10.0.0.1",
		TargetPort:  443,
		Protocol:    config.ProtocolHTTP,
		Concurrency: 8,
		ConfigFile:  "run.yml",
	}
	info := toRunInfo(cfg)
	if info.Target != "10.0.0.1" || info.Port != 443 {
		t.Fatalf("target mapping wrong: %s:%d", info.Target, info.Port)
	}
	if info.Protocol != "http" {
		t.Fatalf("protocol mapping wrong: %s", info.Protocol)
	}
	if info.ConfigFile != "run.yml" {
		t.Fatalf("config file mapping wrong: %s", info.ConfigFile)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, c := range cases {
		log := newLogger(&config.Config{LogLevel: c.level})
		if log.GetLevel() != c.want {
			t.Fatalf("level %q: got %s, want %s", c.level, log.GetLevel(), c.want)
		}
	}
}
