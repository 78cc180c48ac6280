package config

import "time"

// WorkerConfig holds runtime configuration for the build worker.
type WorkerConfig struct {
	Environment      string
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	DockerHost       string
	Workdir          string
	Registry         string
	GitTimeout       time.Duration
	InstallTimeout   time.Duration
	BuildTimeout     time.Duration
	ImageTimeout     time.Duration
	OutputLimitBytes int
	GatewayWSURL     string
	MetricsAddr      string
	WorkerToken      string
	PublishBuffer    int
	EnvEncryptionKey string
	DomainSuffix     string
	PortRangeStart   int
	PortRangeEnd     int
	AppPort          int
	StopGrace        time.Duration
	ImageRetention   int
}

// LoadWorkerConfig constructs a WorkerConfig from environment variables.
func LoadWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Environment:      GetString("APP_ENV", "development"),
		DatabaseURL:      GetString("DATABASE_URL", "postgres://vercel:vercel@db:5432/vercel?sslmode=disable"),
		RedisAddr:        GetString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    GetString("REDIS_PASSWORD", ""),
		RedisDB:          GetInt("REDIS_DB", 0),
		DockerHost:       GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		Workdir:          GetString("BUILDS_DIR", "/tmp/vercelclone/builds"),
		Registry:         GetString("DOCKER_REGISTRY", "vercel-clone"),
		GitTimeout:       GetSeconds("GIT_TIMEOUT_SECONDS", 120),
		InstallTimeout:   GetSeconds("INSTALL_TIMEOUT_SECONDS", 600),
		BuildTimeout:     GetSeconds("BUILD_TIMEOUT_SECONDS", 900),
		ImageTimeout:     GetSeconds("IMAGE_TIMEOUT_SECONDS", 900),
		OutputLimitBytes: GetInt("OUTPUT_LIMIT_BYTES", 1<<20),
		GatewayWSURL:     GetString("GATEWAY_WS_URL", "ws://localhost:4000/ws/ingest"),
		MetricsAddr:      GetString("WORKER_METRICS_ADDR", ":4100"),
		WorkerToken:      GetString("WORKER_AUTH_TOKEN", ""),
		PublishBuffer:    GetInt("PUBLISH_BUFFER", 4096),
		EnvEncryptionKey: GetString("ENV_ENCRYPTION_KEY", "supersecuresecret"),
		DomainSuffix:     GetString("DOMAIN_SUFFIX", "vercelclone.local"),
		PortRangeStart:   GetInt("PORT_RANGE_START", 4001),
		PortRangeEnd:     GetInt("PORT_RANGE_END", 4999),
		AppPort:          GetInt("APP_PORT", 3000),
		StopGrace:        GetSeconds("CONTAINER_STOP_GRACE_SECONDS", 10),
		ImageRetention:   GetInt("IMAGE_RETENTION", 3),
	}
}
