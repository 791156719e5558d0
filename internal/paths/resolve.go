package paths

import "github.com/rohitpatil2845/BAATKANE/internal/config"

const DefaultInstance = "main"

// Resolve picks the active instance name:
// 1. flagOverride (--instance flag)
// 2. config.toml default_instance
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultInstance != "" {
		return cfg.DefaultInstance
	}
	return DefaultInstance
}
