package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/codingofficer/internal/config"
	"github.com/codingofficer/internal/llm"
)

// ModelsCommand returns the models command
func ModelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "Check the API key and list the models it can use",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "filter",
				Usage: "Only show models whose id contains `TEXT`",
			},
		},
		Action: runModels,
	}
}

func runModels(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		return config.ErrMissingAPIKey
	}

	client := llm.NewClient(llm.OptionsFromConfig(cfg))
	models, err := client.ListModels(commandContext(c))
	if err != nil {
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) && apiErr.Kind == llm.KindAuthentication {
			return fmt.Errorf("API key rejected: %w", err)
		}
		return fmt.Errorf("failed to list models: %w", err)
	}

	filter := strings.ToLower(c.String("filter"))
	for _, m := range models {
		if filter != "" && !strings.Contains(strings.ToLower(m.ID), filter) {
			continue
		}
		marker := " "
		if m.ID == cfg.LLM.Model {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, m.ID)
	}
	return nil
}
