package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/codingofficer/internal/export"
)

// ExportCommand returns the export command
func ExportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the per-reply tag table",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output `FILE` (default: export.dir/export.file_name_format)",
			},
			&cli.BoolFlag{
				Name:  "repair",
				Usage: "Try to repair malformed JSON answers before parsing",
			},
		},
		Action: runExport,
	}
}

func runExport(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := export.OptionsFromConfig(a.cfg)
	if c.Bool("repair") {
		opts.Repair = true
	}

	result, err := export.NewExporter(a.store, a.hub, opts).Export(commandContext(c), c.String("out"))
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fmt.Printf("Parsed %d answers (%d failed), %d replies tagged\n", result.Parsed, result.Failed, result.TaggedReplies)
	if result.UnknownTags > 0 || result.UnknownReplies > 0 {
		fmt.Printf("Ignored %d tags outside the coding scheme and %d unknown reply ids\n", result.UnknownTags, result.UnknownReplies)
	}
	fmt.Println(result.Path)
	return nil
}
