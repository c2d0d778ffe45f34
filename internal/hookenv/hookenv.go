// Package hookenv reads the dispatch context Juju passes to a charm through
// JUJU_* environment variables.
package hookenv

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Context is the environment of a single dispatch.
type Context struct {
	UnitName     string `envconfig:"JUJU_UNIT_NAME"`
	ModelName    string `envconfig:"JUJU_MODEL_NAME"`
	CharmDir     string `envconfig:"JUJU_CHARM_DIR"`
	DispatchPath string `envconfig:"JUJU_DISPATCH_PATH"`
	HookName     string `envconfig:"JUJU_HOOK_NAME"`
	ActionName   string `envconfig:"JUJU_ACTION_NAME"`
	JujuVersion  string `envconfig:"JUJU_VERSION"`

	HTTPProxy  string `envconfig:"JUJU_CHARM_HTTP_PROXY"`
	HTTPSProxy string `envconfig:"JUJU_CHARM_HTTPS_PROXY"`
	NoProxy    string `envconfig:"JUJU_CHARM_NO_PROXY"`
}

// Load reads the dispatch context from the process environment.
func Load() (*Context, error) {
	var ctx Context
	if err := envconfig.Process("", &ctx); err != nil {
		return nil, fmt.Errorf("failed to load hook environment: %w", err)
	}
	return &ctx, nil
}

// ProxyEnv maps the model proxy settings onto the variables apt and other
// host tools understand. Unset settings are left out.
func (c *Context) ProxyEnv() []string {
	var env []string
	for _, kv := range [][2]string{
		{"http_proxy", c.HTTPProxy},
		{"https_proxy", c.HTTPSProxy},
		{"no_proxy", c.NoProxy},
	} {
		if kv[1] != "" {
			env = append(env, kv[0]+"="+kv[1])
		}
	}
	return env
}

// UnitLabel returns the unit name, or "unknown-unit" outside a dispatch.
func (c *Context) UnitLabel() string {
	if c.UnitName == "" {
		return "unknown-unit"
	}
	return c.UnitName
}
