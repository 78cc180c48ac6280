package config

import "time"

// GatewayConfig holds runtime configuration for the gateway service.
type GatewayConfig struct {
	Environment      string
	Addr             string
	DatabaseURL      string
	MigrationsDir    string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	WorkerToken      string
	DockerHost       string
	DomainSuffix     string
	Registry         string
	PortRangeStart   int
	PortRangeEnd     int
	StopGrace        time.Duration
	SubscribeBuffer  int
	ShutdownTimeout  time.Duration
	EnvEncryptionKey string
}

// LoadGatewayConfig constructs a GatewayConfig from environment variables.
func LoadGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Environment:      GetString("APP_ENV", "development"),
		Addr:             GetString("GATEWAY_ADDR", ":4000"),
		DatabaseURL:      GetString("DATABASE_URL", "postgres://vercel:vercel@db:5432/vercel?sslmode=disable"),
		MigrationsDir:    GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		RedisAddr:        GetString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    GetString("REDIS_PASSWORD", ""),
		RedisDB:          GetInt("REDIS_DB", 0),
		WorkerToken:      GetString("WORKER_AUTH_TOKEN", ""),
		DockerHost:       GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		DomainSuffix:     GetString("DOMAIN_SUFFIX", "vercelclone.local"),
		Registry:         GetString("DOCKER_REGISTRY", "vercel-clone"),
		PortRangeStart:   GetInt("PORT_RANGE_START", 4001),
		PortRangeEnd:     GetInt("PORT_RANGE_END", 4999),
		StopGrace:        GetSeconds("CONTAINER_STOP_GRACE_SECONDS", 10),
		SubscribeBuffer:  GetInt("WS_LOG_BUFFER", 256),
		ShutdownTimeout:  GetSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10),
		EnvEncryptionKey: GetString("ENV_ENCRYPTION_KEY", "supersecuresecret"),
	}
}
