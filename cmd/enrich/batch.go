package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/phrazzld/enrich/internal/config"
	"github.com/phrazzld/enrich/internal/dispatch"
	"github.com/phrazzld/enrich/internal/schema"
	"github.com/spf13/cobra"
)

// maxLineBytes bounds a single stdin line.
const maxLineBytes = 1 << 20

func newBatchCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run a synchronous batch task over stdin, one item per line",
		Long: "Each line of stdin is one item. Results are printed as JSON in input order; " +
			"items that fail carry an error instead of a record.",
	}
	cmd.PersistentFlags().Int("batch-size", 0, "items per provider call (default from configuration)")
	cmd.AddCommand(
		newBatchClassifyCmd(opts),
		newBatchEnrichCmd(opts),
		newBatchTranslateCmd(opts),
	)
	return cmd
}

// readLines returns the lines of r without trailing newlines. Blank lines
// are kept when keepBlank is set.
func readLines(r io.Reader, keepBlank bool) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var lines []string
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if !keepBlank && strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return lines, nil
}

// withDispatcher runs fn against the dispatcher of a fresh application,
// passing the --batch-size override when set.
func withDispatcher(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, app *application, bopts []dispatch.Option) error) error {
	size, err := cmd.Flags().GetInt("batch-size")
	if err != nil {
		return err
	}
	var bopts []dispatch.Option
	if size != 0 {
		bopts = append(bopts, dispatch.WithBatchSize(size))
	}

	cfg, logger, err := opts.setup(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	// Batch tasks never touch the job store.
	cfg.Database.Driver = config.DriverMemory
	app, err := newApplication(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer app.cleanup()
	return fn(cmd.Context(), app, bopts)
}

// batchOutput summarizes ProcessBatches results.
type batchOutput struct {
	Task      string            `json:"task"`
	Results   []dispatch.Result `json:"results"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

func runTask(cmd *cobra.Command, app *application, task dispatch.Task, items []string, bopts []dispatch.Option) error {
	if len(items) == 0 {
		return fmt.Errorf("no input items on stdin")
	}
	results, err := app.dispatcher.ProcessBatches(cmd.Context(), task, items, bopts...)
	if results == nil {
		return err
	}
	out := batchOutput{Task: task.Name, Results: results}
	for _, r := range results {
		if r.OK() {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	if err != nil {
		app.logger.Warn("batch ended early", "task", task.Name, "error", err)
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

func newBatchClassifyCmd(opts *rootOptions) *cobra.Command {
	var categories []string
	cmd := &cobra.Command{
		Use:     "classify",
		Short:   "Classify opinions by sentiment and category",
		Example: `  enrich batch classify --categories price,support < reviews.txt`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := readLines(cmd.InOrStdin(), false)
			if err != nil {
				return err
			}
			return withDispatcher(cmd, opts, func(_ context.Context, app *application, bopts []dispatch.Option) error {
				return runTask(cmd, app, dispatch.OpinionTask(categories), items, bopts)
			})
		},
	}
	cmd.Flags().StringSliceVar(&categories, "categories", nil, "allowed categories (comma separated)")
	return cmd
}

func newBatchEnrichCmd(opts *rootOptions) *cobra.Command {
	var name, instruction string
	cmd := &cobra.Command{
		Use:     "enrich",
		Short:   "Enrich items against a registered schema",
		Example: `  enrich batch enrich --schema company_profile < companies.txt`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := readLines(cmd.InOrStdin(), false)
			if err != nil {
				return err
			}
			return withDispatcher(cmd, opts, func(_ context.Context, app *application, bopts []dispatch.Option) error {
				s, err := app.schemas.Get(name)
				if err != nil {
					return err
				}
				task := dispatch.CustomTask(s, instruction)
				if s.Name == schema.CompanyProfileName && instruction == "" {
					task = dispatch.CompanyProfileTask()
				}
				return runTask(cmd, app, task, items, bopts)
			})
		},
	}
	cmd.Flags().StringVar(&name, "schema", schema.CompanyProfileName, "registered schema name")
	cmd.Flags().StringVar(&instruction, "instruction", "", "task instruction (default: the schema description)")
	return cmd
}

// translateOutput summarizes Translate results.
type translateOutput struct {
	Column     string                    `json:"column,omitempty"`
	Cells      []dispatch.TranslatedCell `json:"cells"`
	Translated int                       `json:"translated"`
	Skipped    int                       `json:"skipped"`
	Failed     int                       `json:"failed"`
}

func newBatchTranslateCmd(opts *rootOptions) *cobra.Command {
	var column, target string
	cmd := &cobra.Command{
		Use:     "translate",
		Short:   "Translate one column, one cell per line",
		Long:    "Translate one column, one cell per line. Rows are numbered from 1; empty lines are kept as empty cells.",
		Example: `  enrich batch translate --to French --column description < column.txt`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lines, err := readLines(cmd.InOrStdin(), true)
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				return fmt.Errorf("no input cells on stdin")
			}
			cells := make([]dispatch.Cell, len(lines))
			for i := range lines {
				cells[i] = dispatch.Cell{Row: i + 1, Text: &lines[i]}
			}

			return withDispatcher(cmd, opts, func(ctx context.Context, app *application, bopts []dispatch.Option) error {
				translated, err := app.dispatcher.Translate(ctx, dispatch.TranslateRequest{
					Column:         column,
					TargetLanguage: target,
					Cells:          cells,
				}, bopts...)
				if translated == nil {
					return err
				}
				out := translateOutput{Column: column, Cells: translated}
				for _, c := range translated {
					switch {
					case c.Skipped:
						out.Skipped++
					case c.Err != nil:
						out.Failed++
					default:
						out.Translated++
					}
				}
				if err != nil {
					app.logger.Warn("translation ended early", "column", column, "error", err)
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "column name, used as context for the translation")
	cmd.Flags().StringVar(&target, "to", "", "target language")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
