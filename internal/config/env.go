package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables for secrets and deployment-specific values. The VITE_
// names are accepted for deployments that share one .env with the website build.
var (
	envToken  = []string{"TELEGRAM_BOT_TOKEN", "VITE_TELEGRAM_BOT_TOKEN"}
	envChatID = []string{"TELEGRAM_CHAT_ID", "VITE_TELEGRAM_CHAT_ID"}
)

const (
	envAPIBase    = "TELEGRAM_API_BASE"
	envIntakeAddr = "INQUIRYRELAY_ADDR"
	envLogLevel   = "INQUIRYRELAY_LOG_LEVEL"
)

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored; it reports which files were loaded.
func LoadDotEnv(paths ...string) ([]string, error) {
	var loaded []string
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, err
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

// ApplyEnv overlays environment values onto cfg. Non-empty environment values
// win over the file. getenv defaults to os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	first := func(keys []string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				return v
			}
		}
		return ""
	}
	if v := first(envToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := first(envChatID); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(getenv(envAPIBase)); v != "" {
		cfg.Telegram.APIBase = v
	}
	if v := strings.TrimSpace(getenv(envIntakeAddr)); v != "" {
		cfg.Intake.Addr = v
	}
	if v := strings.TrimSpace(getenv(envLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
}
