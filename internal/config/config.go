package config

import (
	"os"
	"strconv"

	"lifevault-emergency/common/config"
)

// Config 紧急访问引擎服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 引擎特定配置
	Emergency struct {
		// Redis 缓存配置
		Cache struct {
			ProtocolKeyPrefix  string // 协议缓存键前缀，如 "lifevault:emergency:protocol:"
			ContactsKeyPrefix  string // 联系人缓存键前缀，如 "lifevault:emergency:contacts:"
			ProtocolTTL        int    // 协议/联系人缓存 TTL（秒），默认 60
			ChallengeKeyPrefix string // 验证挑战键前缀，如 "lifevault:emergency:challenge:"
		}

		// 事件流配置
		EventStream string // Redis Stream 名称，默认 "lifevault:emergency:events"

		// 调度器配置
		Scheduler struct {
			PollInterval int // 轮询间隔（秒），默认 5
			BatchSize    int // 单次触发的任务批量，默认 50
		}

		// 验证配置
		Verification struct {
			TTLHours int // 验证记录有效期（小时），默认 24
		}

		// 请求最大生存期（小时），超过后 pending/time_locked/verification_required 自动过期
		RequestLifetimeHours int

		// inactivity 监测扫描间隔（小时），默认 24
		InactivitySweepHours int

		// 通知配置
		Notify struct {
			MQTTEnabled  bool
			MQTTTopicBase string // 通知主题前缀，如 "lifevault/emergency/notify/"
		}
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "lifevault")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "lifevault-emergency")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	// 引擎配置
	cfg.Emergency.Cache.ProtocolKeyPrefix = getEnv("CACHE_PROTOCOL_PREFIX", "lifevault:emergency:protocol:")
	cfg.Emergency.Cache.ContactsKeyPrefix = getEnv("CACHE_CONTACTS_PREFIX", "lifevault:emergency:contacts:")
	cfg.Emergency.Cache.ProtocolTTL = getEnvInt("CACHE_PROTOCOL_TTL", 60)
	cfg.Emergency.Cache.ChallengeKeyPrefix = getEnv("CACHE_CHALLENGE_PREFIX", "lifevault:emergency:challenge:")

	cfg.Emergency.EventStream = getEnv("EVENT_STREAM", "lifevault:emergency:events")

	cfg.Emergency.Scheduler.PollInterval = getEnvInt("SCHEDULER_POLL_INTERVAL", 5)
	cfg.Emergency.Scheduler.BatchSize = getEnvInt("SCHEDULER_BATCH_SIZE", 50)

	cfg.Emergency.Verification.TTLHours = getEnvInt("VERIFICATION_TTL_HOURS", 24)
	cfg.Emergency.RequestLifetimeHours = getEnvInt("REQUEST_LIFETIME_HOURS", 720)
	cfg.Emergency.InactivitySweepHours = getEnvInt("INACTIVITY_SWEEP_HOURS", 24)

	cfg.Emergency.Notify.MQTTEnabled = getEnv("NOTIFY_MQTT_ENABLED", "false") == "true"
	cfg.Emergency.Notify.MQTTTopicBase = getEnv("NOTIFY_MQTT_TOPIC_BASE", "lifevault/emergency/notify/")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
