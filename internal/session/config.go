package session

import "time"

// Config bounds session establishment.
type Config struct {
	// SetupTimeout caps the wait for the device's self-announcement
	// and initial configuration push after the medium opens.
	SetupTimeout time.Duration
	// DialTimeout caps TCP connection establishment.
	DialTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SetupTimeout: 10 * time.Second,
		DialTimeout:  5 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = def.SetupTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	return c
}
