package main

import (
	"strings"
	"sync"

	"scribe/internal/apiclient"
	"scribe/internal/config"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configPath, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// apiAddr resolves the daemon address: the --api flag wins, then the
// configured bind address.
func (c *commandContext) apiAddr() string {
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		return strings.TrimSpace(*c.apiFlag)
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return "127.0.0.1:7519"
	}
	return cfg.Paths.APIBind
}

func (c *commandContext) client() *apiclient.Client {
	return apiclient.New(c.apiAddr())
}
