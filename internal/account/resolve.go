package account

import "github.com/matheus3301/chatmail/internal/config"

const DefaultAccountName = "main"

// Resolve picks the active account: the -account flag, then default_account
// from config.toml, then "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultAccount != "" {
		return cfg.DefaultAccount
	}
	return DefaultAccountName
}

// LogLevel returns the configured daemon log level, or "" when unset.
func LogLevel() string {
	cfg, err := config.Load(ConfigPath())
	if err != nil {
		return ""
	}
	return cfg.LogLevel
}
