package broker

import "time"

// SelectionStrategy picks which active session receives an outbound command
type SelectionStrategy string

const (
	StrategyRoundRobin SelectionStrategy = "round-robin"
	StrategyRandom     SelectionStrategy = "random"
)

// Options configures a Broker instance
type Options struct {
	// HeartbeatInterval drives the per-connection ping emission and the
	// liveness sweep period
	HeartbeatInterval time.Duration

	// RequestTimeout bounds how long a send operation waits for the
	// extension's acknowledgment
	RequestTimeout time.Duration

	// MaxSessionsPerKey caps concurrent sessions per API key
	MaxSessionsPerKey int

	// Strategy selects among multiple active sessions
	Strategy SelectionStrategy

	// OnError receives faults from message handlers so the hosting process
	// can report them; handler faults never tear down the broker
	OnError func(error)
}

// DefaultOptions returns the default broker configuration
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 30 * time.Second,
		RequestTimeout:    30 * time.Second,
		MaxSessionsPerKey: 10,
		Strategy:          StrategyRoundRobin,
	}
}

// normalize fills zero values with defaults
func (o Options) normalize() Options {
	defaults := DefaultOptions()
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaults.RequestTimeout
	}
	if o.MaxSessionsPerKey <= 0 {
		o.MaxSessionsPerKey = defaults.MaxSessionsPerKey
	}
	if o.Strategy != StrategyRoundRobin && o.Strategy != StrategyRandom {
		o.Strategy = defaults.Strategy
	}
	return o
}
