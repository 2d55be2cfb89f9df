package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"news_narrator/internal/domain"
)

func newNarrateCommand(ctx *commandContext) *cobra.Command {
	var (
		variant string
		wait    bool
	)

	cmd := &cobra.Command{
		Use:   "narrate <article-id>",
		Short: "Narrate a completed article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := domain.ParseVariant(variant)
			if err != nil {
				return err
			}

			logger := ctx.cliLogger()
			opts := appOptions{engines: true, dispatch: true}
			return ctx.withApp(cmd.Context(), opts, logger, func(app *application) error {
				scheduled, err := app.pipeline.RequestNarration(cmd.Context(), args[0], v)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !scheduled {
					fmt.Fprintf(out, "Article %s already has %s audio\n", args[0], v)
					return nil
				}

				switch {
				case app.local != nil:
					err = app.processInline(cmd.Context(), app.articleSettled(args[0]))
				case wait:
					err = waitFor(cmd.Context(), app.articleSettled(args[0]))
				default:
					fmt.Fprintf(out, "Narration of %s scheduled\n", args[0])
					return nil
				}
				if err != nil {
					return err
				}

				article, err := app.pipeline.GetArticle(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ref := article.AudioFor(v); ref != nil {
					fmt.Fprintln(out, *ref)
				} else {
					fmt.Fprintf(out, "Narration of %s produced no audio\n", args[0])
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&variant, "variant", string(domain.VariantTranslated), "Audio variant: translated or original")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until narration finishes")
	return cmd
}
