package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"news_narrator/internal/service"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	var jsonMode bool

	cmd := &cobra.Command{
		Use:   "task <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), appOptions{}, ctx.cliLogger(), func(app *application) error {
				task, err := app.pipeline.GetTask(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonMode {
					return writeJSON(cmd, task)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, taskDetails(task), nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Output as JSON")
	return cmd
}

func newTasksCommand(ctx *commandContext) *cobra.Command {
	var (
		offset   int
		limit    int
		jsonMode bool
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), appOptions{}, ctx.cliLogger(), func(app *application) error {
				tasks, total, err := app.pipeline.ListTasks(cmd.Context(), offset, limit)
				if err != nil {
					return err
				}
				if jsonMode {
					return writeJSON(cmd, map[string]any{"tasks": tasks, "total": total})
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
					return nil
				}
				headers := []string{"ID", "Status", "Articles", "Narrate", "Origin", "Created"}
				aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(headers, taskRows(tasks), aligns))
				fmt.Fprintf(cmd.OutOrStdout(), "Showing %d of %d\n", len(tasks), total)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "Number of tasks to skip")
	cmd.Flags().IntVar(&limit, "limit", service.DefaultPageSize, "Maximum number of tasks to show")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Output as JSON")
	return cmd
}

func newArticlesCommand(ctx *commandContext) *cobra.Command {
	var jsonMode bool

	cmd := &cobra.Command{
		Use:   "articles <task-id>",
		Short: "List the articles of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), appOptions{}, ctx.cliLogger(), func(app *application) error {
				articles, err := app.pipeline.ListArticles(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonMode {
					return writeJSON(cmd, articles)
				}
				if len(articles) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No articles yet")
					return nil
				}
				headers := []string{"ID", "Status", "Progress", "Title", "Audio"}
				aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(headers, articleRows(articles), aligns))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Output as JSON")
	return cmd
}

func newArticleCommand(ctx *commandContext) *cobra.Command {
	var (
		jsonMode bool
		body     bool
	)

	cmd := &cobra.Command{
		Use:   "article <article-id>",
		Short: "Show an article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), appOptions{}, ctx.cliLogger(), func(app *application) error {
				article, err := app.pipeline.GetArticle(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonMode {
					return writeJSON(cmd, article)
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderTable([]string{"Field", "Value"}, articleDetails(article), nil))
				if body {
					text := article.SourceContent
					if article.TranslatedContent != nil {
						text = *article.TranslatedContent
					}
					fmt.Fprintln(out)
					fmt.Fprintln(out, text)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&body, "body", false, "Print the translated text, or the source while untranslated")
	return cmd
}
