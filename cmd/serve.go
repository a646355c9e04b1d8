package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/codingofficer/internal/api"
	"github.com/codingofficer/internal/llm"
)

// ServeCommand returns the CLI command for starting the control server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the local HTTP control server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the control server (default: server.port)",
			},
		},
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			if c.IsSet("port") {
				a.cfg.Server.Port = c.Int("port")
			}

			server := api.NewServer(api.Deps{
				Config:    a.cfg,
				Store:     a.store,
				Completer: llm.NewClient(llm.OptionsFromConfig(a.cfg)),
				Hub:       a.hub,
			})

			ctx, stop := signal.NotifyContext(commandContext(c), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Start(ctx)
		},
	}
}
