package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/codingofficer/internal/batch"
	"github.com/codingofficer/internal/config"
	"github.com/codingofficer/internal/llm"
	"github.com/codingofficer/internal/notify"
)

// CodeCommand returns the code command
func CodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "code",
		Usage: "Send pending prompts to the model and store the answers",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "test",
				Usage: "Code a small test batch (batch.test_limit rows)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Code at most `N` rows, -1 for all",
			},
			&cli.IntFlag{
				Name:    "threads",
				Aliases: []string{"n"},
				Usage:   "Number of concurrent workers (1-8)",
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "Override llm.model",
			},
		},
		Action: runCode,
	}
}

func runCode(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if c.IsSet("threads") {
		a.cfg.Batch.ThreadCount = c.Int("threads")
	}
	if model := c.String("model"); model != "" {
		a.cfg.LLM.Model = model
	}
	if err := config.ValidateForDispatch(a.cfg); err != nil {
		a.hub.Notify(notify.Error, notify.MsgConfigInvalid, err.Error())
		return fmt.Errorf("cannot start coding: %w", err)
	}

	limit := a.cfg.RunLimit(c.Bool("test"))
	if c.IsSet("limit") && !c.Bool("test") {
		limit = c.Int("limit")
	}

	client := llm.NewClient(llm.OptionsFromConfig(a.cfg))
	dispatcher, err := batch.NewDispatcher(batch.OptionsFromConfig(a.cfg), a.store, client, a.hub, a.store)
	if err != nil {
		return err
	}

	ctx := commandContext(c)
	if _, err := dispatcher.Start(ctx, limit); err != nil {
		if errors.Is(err, batch.ErrNoPendingRows) {
			return nil
		}
		return err
	}

	// First interrupt stops taking new rows; a second one exits at once
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	stopping := false
	for {
		select {
		case <-dispatcher.Done():
			summary := dispatcher.LastSummary()
			if summary != nil {
				fmt.Printf("Run %s %s: %d coded, %d failed, %d remaining\n",
					summary.RunID, summary.State, summary.Coded, summary.Failed+summary.SaveErrors, summary.Remaining)
			}
			return nil
		case <-signals:
			if stopping {
				log.Warn().Msg("Interrupted again, exiting without waiting for running requests")
				return errors.New("interrupted")
			}
			stopping = true
			dispatcher.Stop()
		}
	}
}
