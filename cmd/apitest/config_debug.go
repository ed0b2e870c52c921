package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"novel-ai-proxy/internal/llm"
	"novel-ai-proxy/pkg/utils"
)

// DisplayConfig prints the configuration a server started here would use,
// with credentials masked.
func DisplayConfig(w io.Writer, path string) error {
	cfg, err := llm.LoadConfig(path)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "🔍 Configuration")
	fmt.Fprintln(w, "----------------------------")
	source := cfg.Path
	if source == "" {
		source = "(no config file, environment only)"
	}
	fmt.Fprintf(w, "Source:      %s\n", source)
	fmt.Fprintf(w, "Base URL:    %s\n", cfg.Model.BaseURL)
	fmt.Fprintf(w, "Model:       %s\n", cfg.Model.Name)
	fmt.Fprintf(w, "API key:     %s\n", utils.MaskToken(cfg.Model.APIKey))
	fmt.Fprintf(w, "Listen:      %s\n", cfg.Server.Addr)

	mode := cfg.RateLimitMode()
	fmt.Fprintf(w, "Rate limit:  %s", mode)
	if mode != llm.StoreDisabled {
		fmt.Fprintf(w, " (%d per %s)", cfg.RateLimit.Max, cfg.RateLimit.Window)
	}
	fmt.Fprintln(w)
	if mode == llm.StoreUpstash {
		fmt.Fprintf(w, "KV URL:      %s\n", cfg.RateLimit.URL)
		fmt.Fprintf(w, "KV token:    %s\n", utils.MaskToken(cfg.RateLimit.Token))
	}

	warnings := cfg.Validate()
	if len(warnings) > 0 {
		fmt.Fprintln(w)
		for _, warning := range warnings {
			fmt.Fprintf(w, "%s %s\n", color.YellowString("WARNING:"), warning)
		}
	}
	fmt.Fprintln(w, "----------------------------")
	return nil
}
