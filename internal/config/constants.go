package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const ExpiryJobInterval = 15 * time.Second

// Default rate limiting
const DefaultRateLimitPerMin = 60

// Session APIs are polled twice per interval by every open observer.
const SessionRateLimitPerMin = 300

// Cheating events arrive in bursts from a single tab; allow more headroom.
const CheatingEventRateLimitPerMin = 600

// Honeypot access recording runs detached from the request.
const HoneypotRecordTimeout = 5 * time.Second

// Request body limits
const (
	MaxJSONBodyBytes = 64 << 10
	MaxCodeBodyBytes = 512 << 10
)

// SSE keepalive
const SSEHeartbeatInterval = 30 * time.Second
