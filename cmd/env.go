package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/codingofficer/internal/config"
)

// ConfigCheckResult holds what a coding run needs and what is missing
type ConfigCheckResult struct {
	Missing  []string          // Settings a coding run cannot start without
	Present  map[string]string // Settings that are set (secrets masked)
	Warnings []string          // Non-fatal warnings
}

// CheckRequiredConfig reports the settings needed before coding can start
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing: []string{},
		Present: map[string]string{
			"general.language":   cfg.General.Language,
			"llm.base_url":       cfg.LLM.BaseURL,
			"batch.thread_count": fmt.Sprint(cfg.Batch.ThreadCount),
			"database.path":      cfg.Database.Path,
			"export.dir":         cfg.Export.Dir,
		},
		Warnings: []string{},
	}

	if strings.TrimSpace(cfg.LLM.Model) == "" {
		result.Missing = append(result.Missing, "llm.model")
	} else {
		result.Present["llm.model"] = cfg.LLM.Model
	}

	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		result.Missing = append(result.Missing, "llm.api_key")
	} else {
		result.Present["llm.api_key"] = maskSecret(cfg.LLM.APIKey)
	}

	if cfg.LLM.RequestsPerSecond == 0 && cfg.Batch.ThreadCount > 4 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d workers without llm.requests_per_second may hit provider rate limits", cfg.Batch.ThreadCount))
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(w io.Writer, result *ConfigCheckResult) {
	fmt.Fprintln(w, "=== Configuration Check ===")

	if len(result.Missing) > 0 {
		fmt.Fprintln(w, "❌ Missing settings:")
		for _, v := range result.Missing {
			fmt.Fprintf(w, "   - %s\n", v)
		}
		fmt.Fprintln(w)
	}

	if len(result.Present) > 0 {
		fmt.Fprintln(w, "✓ Configured settings:")
		for _, k := range sortedKeys(result.Present) {
			fmt.Fprintf(w, "   - %s = %s\n", k, result.Present[k])
		}
		fmt.Fprintln(w)
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "⚠ Warning: %s\n", warning)
	}

	if len(result.Missing) == 0 {
		fmt.Fprintln(w, "✓ Ready to start coding")
	}

	fmt.Fprintln(w, "============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads KEY=VALUE lines from filename into the environment,
// overwriting existing values. Blank lines and # comments are skipped.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}

func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' || first == '\'') && first == last {
			return value[1 : len(value)-1]
		}
	}
	return value
}
