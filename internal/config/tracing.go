package config

// TracingConfig configures OTLP trace export.
// Spans are sent to a local collector/agent over OTLP HTTP; the agent
// handles authentication, buffering and forwarding to the backend.
type TracingConfig struct {
	// Enabled turns span export on. Default: false (no-op tracer).
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// AgentHost is the OTLP HTTP endpoint, host:port (default localhost:4318).
	AgentHost string `mapstructure:"agent_host" json:"agent_host"`

	// ServiceName tags exported spans (default "ragd").
	ServiceName string `mapstructure:"service_name" json:"service_name"`

	// Environment tags exported spans (e.g. "dev", "prod").
	Environment string `mapstructure:"environment" json:"environment"`
}
