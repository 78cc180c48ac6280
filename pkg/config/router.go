package config

import "time"

// RouterConfig holds runtime configuration for the host router.
type RouterConfig struct {
	Environment     string
	Addr            string
	DatabaseURL     string
	DomainSuffix    string
	CacheTTL        time.Duration
	ShutdownTimeout time.Duration
}

// LoadRouterConfig constructs a RouterConfig from environment variables.
func LoadRouterConfig() RouterConfig {
	return RouterConfig{
		Environment:     GetString("APP_ENV", "development"),
		Addr:            GetString("ROUTER_ADDR", ":8080"),
		DatabaseURL:     GetString("DATABASE_URL", "postgres://vercel:vercel@db:5432/vercel?sslmode=disable"),
		DomainSuffix:    GetString("DOMAIN_SUFFIX", "vercelclone.local"),
		CacheTTL:        GetSeconds("ROUTE_CACHE_TTL_SECONDS", 10),
		ShutdownTimeout: GetSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10),
	}
}
