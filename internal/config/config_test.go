package config

import (
	"os"
	"testing"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 检查默认值
	if cfg.Database.Host != "localhost" {
		t.Errorf("Expected DB_HOST default 'localhost', got '%s'", cfg.Database.Host)
	}

	if cfg.Database.Port != 5432 {
		t.Errorf("Expected DB_PORT default 5432, got %d", cfg.Database.Port)
	}

	if cfg.Database.Database != "lifevault" {
		t.Errorf("Expected DB_NAME default 'lifevault', got '%s'", cfg.Database.Database)
	}

	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR default 'localhost:6379', got '%s'", cfg.Redis.Addr)
	}

	if cfg.Emergency.Cache.ProtocolKeyPrefix != "lifevault:emergency:protocol:" {
		t.Errorf("Expected protocol key prefix default, got '%s'", cfg.Emergency.Cache.ProtocolKeyPrefix)
	}

	if cfg.Emergency.Scheduler.PollInterval != 5 {
		t.Errorf("Expected scheduler poll interval default 5, got %d", cfg.Emergency.Scheduler.PollInterval)
	}

	if cfg.Emergency.Verification.TTLHours != 24 {
		t.Errorf("Expected verification TTL default 24, got %d", cfg.Emergency.Verification.TTLHours)
	}

	if cfg.Emergency.RequestLifetimeHours != 720 {
		t.Errorf("Expected request lifetime default 720, got %d", cfg.Emergency.RequestLifetimeHours)
	}

	if cfg.Emergency.Notify.MQTTEnabled {
		t.Errorf("Expected NOTIFY_MQTT_ENABLED default false")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected LOG_LEVEL default 'info', got '%s'", cfg.Log.Level)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// 设置环境变量
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_NAME", "test-db")
	os.Setenv("EVENT_STREAM", "test:events")
	os.Setenv("SCHEDULER_POLL_INTERVAL", "1")
	os.Setenv("VERIFICATION_TTL_HOURS", "48")
	os.Setenv("NOTIFY_MQTT_ENABLED", "true")
	os.Setenv("LOG_LEVEL", "debug")

	defer func() {
		os.Unsetenv("DB_HOST")
		os.Unsetenv("DB_NAME")
		os.Unsetenv("EVENT_STREAM")
		os.Unsetenv("SCHEDULER_POLL_INTERVAL")
		os.Unsetenv("VERIFICATION_TTL_HOURS")
		os.Unsetenv("NOTIFY_MQTT_ENABLED")
		os.Unsetenv("LOG_LEVEL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 检查环境变量值
	if cfg.Database.Host != "test-host" {
		t.Errorf("Expected DB_HOST 'test-host', got '%s'", cfg.Database.Host)
	}

	if cfg.Database.Database != "test-db" {
		t.Errorf("Expected DB_NAME 'test-db', got '%s'", cfg.Database.Database)
	}

	if cfg.Emergency.EventStream != "test:events" {
		t.Errorf("Expected EVENT_STREAM 'test:events', got '%s'", cfg.Emergency.EventStream)
	}

	if cfg.Emergency.Scheduler.PollInterval != 1 {
		t.Errorf("Expected SCHEDULER_POLL_INTERVAL 1, got %d", cfg.Emergency.Scheduler.PollInterval)
	}

	if cfg.Emergency.Verification.TTLHours != 48 {
		t.Errorf("Expected VERIFICATION_TTL_HOURS 48, got %d", cfg.Emergency.Verification.TTLHours)
	}

	if !cfg.Emergency.Notify.MQTTEnabled {
		t.Errorf("Expected NOTIFY_MQTT_ENABLED true")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected LOG_LEVEL 'debug', got '%s'", cfg.Log.Level)
	}
}
