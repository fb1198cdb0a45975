package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dgnsrekt/ttscache/internal/service"
	"github.com/dgnsrekt/ttscache/internal/tts"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"
	"github.com/spf13/cobra"
)

const maxColumnWidth = 36

var (
	voicesEngine string
	voicesQuery  string
	voicesJSON   bool

	voicesCmd = &cobra.Command{
		Use:     "voices",
		Short:   "List the voices of an engine",
		Example: paragraph("ttscache voices\nttscache voices --engine fallback --query lessac"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			sel, voices, err := a.svc.Voices(cmd.Context(), voicesEngine)
			if err != nil {
				return err
			}
			voices = service.FilterVoices(voices, voicesQuery)

			if voicesJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(voices)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n\n", keyword(sel.String()), faint(fmt.Sprintf("%d voices", len(voices))))
			return renderVoices(cmd.OutOrStdout(), voices)
		},
	}
)

func init() {
	voicesCmd.Flags().StringVarP(&voicesEngine, "engine", "e", "", "auto, primary or fallback (default from config)")
	voicesCmd.Flags().StringVarP(&voicesQuery, "query", "q", "", "fuzzy filter on id, name, locale and gender")
	voicesCmd.Flags().BoolVar(&voicesJSON, "json", false, "print the voices as JSON")
}

// renderVoices writes an aligned table. Cells wider than maxColumnWidth are
// truncated with an ellipsis.
func renderVoices(w io.Writer, voices []tts.Voice) error {
	rows := [][]string{{"ID", "NAME", "LOCALE", "GENDER"}}
	for _, v := range voices {
		rows = append(rows, []string{v.ID, v.Name, v.Locale, v.Gender})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], min(runewidth.StringWidth(cell), maxColumnWidth))
		}
	}

	for n, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			if runewidth.StringWidth(cell) > widths[i] {
				cell = truncate.StringWithTail(cell, uint(widths[i]), "…") //nolint:gosec
			}
			cells[i] = runewidth.FillRight(cell, widths[i])
		}
		line := strings.TrimRight(strings.Join(cells, "  "), " ")
		if n == 0 {
			line = header(line)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
