package llm

import (
	"github.com/lunahealth/lumen/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.llm",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	if cfg.LLM.APIKey == "" {
		return &NoOpProvider{}
	}
	return NewOpenAI(Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	})
}
