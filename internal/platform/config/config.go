package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/todo-1m/todo-pathways/internal/platform/env"
)

// Broker addresses the event log. Tenant and DataCore namespace the stream.
type Broker struct {
	URL      string
	Tenant   string
	DataCore string
	APIKey   string
}

// API is the configuration of the todo-api process.
type API struct {
	Broker           Broker
	PostgresURL      string
	WebhookSecret    string
	HTTPAddr         string
	AllowedOrigin    string
	ShutdownTimeout  time.Duration
	StateTTL         time.Duration
	StrictProjection bool
	LogLevel         string
}

// Relay is the configuration of the webhook-relay process.
type Relay struct {
	Broker          Broker
	WebhookURL      string
	WebhookSecret   string
	RequestTimeout  time.Duration
	MaxBackoff      time.Duration
	MaxDeliver      int
	ShutdownTimeout time.Duration
	LogLevel        string
}

// Writer is the configuration of the write-todo demo.
type Writer struct {
	Broker      Broker
	PostgresURL string
	LogLevel    string
}

// LoadGen is the configuration of the load-todos driver.
type LoadGen struct {
	APIBase        string
	Clients        int
	Rate           float64
	Duration       time.Duration
	RampUp         time.Duration
	RequestTimeout time.Duration
	StartupWait    time.Duration
	MetricsAddr    string
	LogLevel       string
}

func loadBroker(req *env.Required) Broker {
	return Broker{
		URL:      req.String("BROKER_URL"),
		Tenant:   req.String("BROKER_TENANT"),
		DataCore: req.String("BROKER_DATA_CORE"),
		APIKey:   req.String("BROKER_API_KEY"),
	}
}

func LoadAPI() (API, error) {
	var req env.Required
	cfg := API{
		Broker:           loadBroker(&req),
		PostgresURL:      req.String("POSTGRES_URL"),
		WebhookSecret:    req.String("WEBHOOK_SECRET"),
		HTTPAddr:         env.String("HTTP_ADDR", env.DefaultHTTPAddr),
		AllowedOrigin:    env.String("CORS_ORIGIN", "*"),
		ShutdownTimeout:  env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		StateTTL:         env.Duration("STATE_TTL", 24*time.Hour),
		StrictProjection: env.Bool("PROJECTION_STRICT", false),
		LogLevel:         env.String("LOG_LEVEL", "info"),
	}
	if err := req.Err(); err != nil {
		return API{}, err
	}
	return cfg, nil
}

func LoadRelay() (Relay, error) {
	var req env.Required
	cfg := Relay{
		Broker:          loadBroker(&req),
		WebhookURL:      req.String("WEBHOOK_URL"),
		WebhookSecret:   req.String("WEBHOOK_SECRET"),
		RequestTimeout:  env.Duration("RELAY_TIMEOUT", 5*time.Second),
		MaxBackoff:      env.Duration("RELAY_MAX_BACKOFF", 30*time.Second),
		MaxDeliver:      env.Int("RELAY_MAX_DELIVER", 20),
		ShutdownTimeout: env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:        env.String("LOG_LEVEL", "info"),
	}
	if err := req.Err(); err != nil {
		return Relay{}, err
	}
	return cfg, nil
}

func LoadWriter() (Writer, error) {
	var req env.Required
	cfg := Writer{
		Broker:      loadBroker(&req),
		PostgresURL: req.String("POSTGRES_URL"),
		LogLevel:    env.String("LOG_LEVEL", "info"),
	}
	if err := req.Err(); err != nil {
		return Writer{}, err
	}
	return cfg, nil
}

func LoadLoadGen() (LoadGen, error) {
	cfg := LoadGen{
		APIBase:        strings.TrimRight(env.String("LOADGEN_API_BASE", "http://localhost"+env.DefaultHTTPAddr), "/"),
		Clients:        env.Int("LOADGEN_CLIENTS", 20),
		Rate:           env.Float("LOADGEN_ACTIONS_PER_CLIENT_PER_SECOND", 1),
		Duration:       env.Duration("LOADGEN_DURATION", time.Minute),
		RampUp:         env.Duration("LOADGEN_RAMP_UP", 5*time.Second),
		RequestTimeout: env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		StartupWait:    env.Duration("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		MetricsAddr:    env.String("LOADGEN_METRICS_ADDR", ":9099"),
		LogLevel:       env.String("LOG_LEVEL", "info"),
	}
	if cfg.Clients <= 0 {
		return LoadGen{}, fmt.Errorf("LOADGEN_CLIENTS must be > 0, got %d", cfg.Clients)
	}
	return cfg, nil
}
