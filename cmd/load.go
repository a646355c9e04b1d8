package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/codingofficer/internal/loader"
	"github.com/codingofficer/internal/notify"
	"github.com/codingofficer/internal/prompts"
)

// LoadCommand returns the load command
func LoadCommand() *cli.Command {
	return &cli.Command{
		Name:  "load",
		Usage: "Import topics, replies and the coding scheme, then generate prompts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "topics",
				Aliases:  []string{"t"},
				Usage:    "CSV file with topic_id, topic_title, topic_content",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "replies",
				Aliases:  []string{"r"},
				Usage:    "CSV file with reply_id, to_reply_id, topic_id, user_name, reply_content",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "scheme",
				Aliases:  []string{"s"},
				Usage:    "CSV file with code, description",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Replace the existing data even if some rows are already coded",
			},
		},
		Action: runLoad,
	}
}

func runLoad(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(c)

	corpus, err := loader.LoadCorpus(c.String("topics"), c.String("replies"), c.String("scheme"))
	if err != nil {
		return err
	}
	a.hub.Notify(notify.Notice, notify.MsgCorpusLoaded, len(corpus.Topics), len(corpus.Replies), len(corpus.Scheme))

	coded, _, err := a.store.CountPrompts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count existing prompts: %w", err)
	}
	if coded > 0 && !c.Bool("force") {
		return fmt.Errorf("%d prompts are already coded; export them first or pass --force to discard them", coded)
	}

	result := prompts.NewBuilder(a.cfg.General.Language).Build(corpus.Topics, corpus.Replies, corpus.Scheme)
	if len(result.Dropped) > 0 {
		a.hub.Notify(notify.Warning, notify.MsgRepliesDropped, len(result.Dropped), result.Dropped)
	}

	if err := a.store.ReplaceCorpus(ctx, corpus.Topics, corpus.Replies, corpus.Scheme); err != nil {
		return fmt.Errorf("failed to store corpus: %w", err)
	}
	if err := a.store.ReplacePrompts(ctx, result.Drafts); err != nil {
		return fmt.Errorf("failed to store prompts: %w", err)
	}
	a.hub.Notify(notify.Notice, notify.MsgPromptsBuilt, len(result.Drafts))

	log.Info().
		Int("topics", len(corpus.Topics)).
		Int("replies", len(corpus.Replies)).
		Int("prompts", len(result.Drafts)).
		Int("dropped", len(result.Dropped)).
		Msg("Corpus loaded")
	return nil
}
