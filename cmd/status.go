package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
)

// StatusCommand returns the status command
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show coding progress and recent runs",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "runs",
				Usage: "Number of recent runs to show",
				Value: 5,
			},
		},
		Action: runStatus,
	}
}

func runStatus(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(c)

	coded, pending, err := a.store.CountPrompts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count prompts: %w", err)
	}
	fmt.Printf("Database: %s\n", a.store.Path())
	fmt.Printf("Prompts:  %d coded, %d pending\n", coded, pending)

	runs, err := a.store.RecentRuns(ctx, c.Int("runs"))
	if err != nil {
		return fmt.Errorf("failed to read runs: %w", err)
	}
	if len(runs) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tMODE\tMODEL\tSTARTED\tSTATE\tREQUESTED\tCODED\tFAILED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			shortRunID(run.RunID), run.Mode, run.Model, run.StartedAt.Local().Format(time.DateTime),
			run.State, run.Requested, run.Coded, run.Failed)
	}
	return w.Flush()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
