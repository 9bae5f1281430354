package config

import (
	"fmt"
	"strings"
)

var validEnvs = map[string]struct{}{
	"local":      {},
	"staging":    {},
	"production": {},
}

// Validate rejects configurations that cannot be served.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must not be empty")
	}
	if _, ok := validEnvs[c.Env]; !ok {
		return fmt.Errorf("Env must be one of local, staging or production; got %q", c.Env)
	}
	if c.Env == "production" && strings.TrimSpace(c.RPCAuthToken) == "" {
		return fmt.Errorf("production deployments require RPCAuthToken or RPCAuthTokenEnv")
	}
	return nil
}
