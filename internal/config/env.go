package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds the environment overrides. Flags win over env, and env wins
// over the file and defaults.
type Env struct {
	ConfigPath string `env:"HOSTGUARD_CONFIG"`
	AuditLog   string `env:"HOSTGUARD_AUDIT_LOG"`
	DB         string `env:"HOSTGUARD_DB"`
	GRPCPort   int    `env:"HOSTGUARD_GRPC_PORT"`
	HostKey    string `env:"HOSTGUARD_HOST_KEY"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadEnv reads the HOSTGUARD_* variables.
func LoadEnv() (Env, error) {
	var e Env
	if err := ParseEnv(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}

// ApplyEnv overlays the set fields of e onto c.
func (c *HostConfig) ApplyEnv(e Env) {
	if e.AuditLog != "" {
		c.Storage.AuditLog = e.AuditLog
	}
	if e.DB != "" {
		c.Storage.DB = e.DB
	}
	if e.GRPCPort != 0 {
		c.Server.Port = e.GRPCPort
	}
	if e.HostKey != "" {
		c.Override.HostKeyPath = e.HostKey
	}
}
