package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"news_narrator/internal/domain"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	if len(headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, len(headers))
	for i := range headers {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft}
	}
	tw.SetColumnConfigs(configs)

	return tw.Render() + "\n"
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func taskRows(tasks []domain.Task) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			t.ID,
			string(t.Status),
			strconv.Itoa(t.ArticleCount),
			yesNo(t.Narrate),
			truncate(t.Origin, 48),
			formatTime(t.CreatedAt),
		})
	}
	return rows
}

func articleRows(articles []domain.Article) [][]string {
	rows := make([][]string, 0, len(articles))
	for _, a := range articles {
		title := a.SourceTitle
		if a.TranslatedTitle != nil {
			title = *a.TranslatedTitle
		}
		rows = append(rows, []string{
			a.ID,
			string(a.Status),
			fmt.Sprintf("%d%%", a.Progress),
			truncate(title, 48),
			yesNo(a.AudioRef != nil),
		})
	}
	return rows
}

func taskDetails(t *domain.Task) [][]string {
	rows := [][]string{
		{"ID", t.ID},
		{"Origin", t.Origin},
		{"Status", string(t.Status)},
		{"Articles", strconv.Itoa(t.ArticleCount)},
		{"Narrate", yesNo(t.Narrate)},
		{"Created", formatTime(t.CreatedAt)},
		{"Updated", formatTime(t.UpdatedAt)},
	}
	if t.ErrorMessage != nil {
		rows = append(rows, []string{"Error", *t.ErrorMessage})
	}
	return rows
}

func articleDetails(a *domain.Article) [][]string {
	rows := [][]string{
		{"ID", a.ID},
		{"Task", a.TaskID},
		{"Status", string(a.Status)},
		{"Progress", fmt.Sprintf("%d%%", a.Progress)},
		{"Title", a.SourceTitle},
	}
	optional := []struct {
		label string
		value *string
	}{
		{"URL", a.SourceURL},
		{"Author", a.Author},
		{"Translated title", a.TranslatedTitle},
		{"Audio", a.AudioRef},
		{"Audio (original)", a.AudioRefOriginal},
	}
	for _, o := range optional {
		if o.value != nil {
			rows = append(rows, []string{o.label, *o.value})
		}
	}
	if a.PublishedAt != nil {
		rows = append(rows, []string{"Published", formatTime(*a.PublishedAt)})
	}
	if a.TranslationStartedAt != nil && a.TranslationCompletedAt != nil {
		rows = append(rows, []string{"Translated in", a.TranslationCompletedAt.Sub(*a.TranslationStartedAt).Round(time.Millisecond).String()})
	}
	return rows
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
