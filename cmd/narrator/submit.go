package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"news_narrator/internal/service"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		title    string
		content  string
		file     string
		url      string
		narrate  bool
		wait     bool
		jsonMode bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit text or a page for translation",
		Long: `Submit creates a task from inline text, a file (use - for stdin) or a
page to crawl. With local dispatch the task is processed in this process
and the command waits for it to finish.`,
		Example: `  narrator submit --title "Budget vote" --file article.txt
  narrator submit --url https://example.com/news --narrate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				if content != "" {
					return errors.New("--text and --file are mutually exclusive")
				}
				data, err := readInput(cmd, file)
				if err != nil {
					return err
				}
				content = string(data)
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("narrate") {
				narrate = cfg.Pipeline.NarrateByDefault && cfg.Synthesis.Enabled
			}

			logger := ctx.cliLogger()
			opts := appOptions{engines: true, dispatch: true}
			return ctx.withApp(cmd.Context(), opts, logger, func(app *application) error {
				task, err := app.pipeline.Submit(cmd.Context(), service.SubmitRequest{
					Title:   title,
					Content: content,
					URL:     url,
					Narrate: narrate,
				})
				if err != nil {
					return err
				}

				if wait || app.local != nil {
					if app.local == nil {
						err = waitFor(cmd.Context(), app.taskFinished(task.ID))
					} else {
						err = app.processInline(cmd.Context(), app.taskFinished(task.ID))
					}
					if err != nil {
						return err
					}
					if task, err = app.pipeline.GetTask(cmd.Context(), task.ID); err != nil {
						return err
					}
				}

				if jsonMode {
					return writeJSON(cmd, task)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, taskDetails(task), nil))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Article title for text submissions")
	cmd.Flags().StringVar(&content, "text", "", "Article body")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the article body from a file, - for stdin")
	cmd.Flags().StringVar(&url, "url", "", "Page to crawl for articles")
	cmd.Flags().BoolVar(&narrate, "narrate", false, "Narrate articles after translation (default from config)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the task finishes")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Output as JSON")

	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
