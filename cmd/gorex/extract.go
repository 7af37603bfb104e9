package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/caffeineduck/gorex/extract"
	"github.com/caffeineduck/gorex/metrics"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file...]",
	Short: "Extract content from HTML files or stdin",
	Long: `Extract structured content from HTML.

Reads the given files, the files matched by --glob, or stdin when neither is
given. Each result is printed as one JSON line. Files that are not HTML are
rejected before they reach the sandbox.

Examples:
  gorex extract page.html
  gorex extract --mode full --url https://example.com/ page.html
  gorex extract --mode custom --field 'h1' --field '.summary' page.html
  gorex extract --glob 'archive/**/*.html' --stats
  curl -s https://example.com | gorex extract --url https://example.com/`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().String("url", "", "Page URL, used to resolve relative links")
	extractCmd.Flags().StringP("mode", "m", "article", "Mode: article, full, metadata, custom or custom:sel1,sel2")
	extractCmd.Flags().StringSlice("field", nil, "CSS selector for custom mode (repeatable)")
	extractCmd.Flags().String("glob", "", "Extract every file matching this doublestar pattern")
	extractCmd.Flags().Bool("stats", false, "Include processing statistics")

	rootCmd.AddCommand(extractCmd)
}

type extractResult struct {
	File    string           `json:"file,omitempty"`
	Content *extract.Content `json:"content,omitempty"`
	Stats   *extract.Stats   `json:"stats,omitempty"`
	Error   *resultError     `json:"error,omitempty"`
}

type resultError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func toResultError(err error) *resultError {
	kind := extract.KindOf(err)
	if kind == "" {
		kind = "error"
	}
	return &resultError{Kind: string(kind), Message: err.Error()}
}

// parseMode accepts the textual mode forms, plus --field selectors for a bare
// "custom".
func parseMode(name string, fields []string) (extract.Mode, error) {
	if name == string(extract.ModeCustom) && len(fields) > 0 {
		return extract.Custom(fields...), nil
	}
	return extract.ParseMode(name)
}

// inputFiles expands explicit paths and the glob into a sorted, deduplicated list.
func inputFiles(args []string, pattern string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, a := range args {
		add(a)
	}
	if pattern != "" {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			add(m)
		}
	}
	return files, nil
}

// readHTML reads path and rejects content that does not sniff as HTML.
func readHTML(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect type: %w", err)
	}
	if !mt.Is("text/html") {
		return "", fmt.Errorf("%s is %s, not HTML", path, mt.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	modeName, _ := cmd.Flags().GetString("mode")
	fields, _ := cmd.Flags().GetStringSlice("field")
	pageURL, _ := cmd.Flags().GetString("url")
	pattern, _ := cmd.Flags().GetString("glob")
	withStats, _ := cmd.Flags().GetBool("stats")

	mode, err := parseMode(modeName, fields)
	if err != nil {
		return err
	}
	files, err := inputFiles(args, pattern)
	if err != nil {
		return err
	}
	if pattern != "" && len(files) == 0 {
		return fmt.Errorf("no files match %q", pattern)
	}

	a, err := setup(cmd, metrics.Nop{})
	if err != nil {
		return err
	}
	defer a.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	run := func(file, html string) extractResult {
		req := extract.Request{HTML: html, URL: pageURL, Mode: mode}
		res := extractResult{File: file}
		if withStats {
			c, stats, err := a.svc.ExtractWithStats(cmd.Context(), req)
			if err != nil {
				res.Error = toResultError(err)
				return res
			}
			res.Content, res.Stats = c, &stats
			return res
		}
		c, err := a.svc.Extract(cmd.Context(), req)
		if err != nil {
			res.Error = toResultError(err)
			return res
		}
		res.Content = c
		return res
	}

	if len(files) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		res := run("", string(data))
		if err := enc.Encode(res); err != nil {
			return err
		}
		if res.Error != nil {
			return fmt.Errorf("extraction failed: %s", res.Error.Message)
		}
		return nil
	}

	failed := 0
	for _, f := range files {
		var res extractResult
		if html, err := readHTML(f); err != nil {
			res = extractResult{File: f, Error: &resultError{Kind: "input", Message: err.Error()}}
		} else {
			res = run(f, html)
		}
		if res.Error != nil {
			failed++
			a.log.Debug("extraction failed", zap.String("file", f), zap.String("kind", res.Error.Kind))
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}
