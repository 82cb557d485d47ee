package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/phrazzld/enrich/internal/job"
	"github.com/spf13/cobra"
)

func newJobsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Enqueue and inspect research jobs",
	}
	cmd.AddCommand(
		newJobsEnqueueCmd(opts),
		newJobsGetCmd(opts),
		newJobsListCmd(opts),
		newJobsKindsCmd(opts),
	)
	return cmd
}

// withService runs fn against the job service of a fresh application.
func withService(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, s *job.Service) error) error {
	cfg, logger, err := opts.setup(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	app, err := newApplication(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer app.cleanup()
	return fn(cmd.Context(), app.service)
}

func newJobsEnqueueCmd(opts *rootOptions) *cobra.Command {
	var kind, payload string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a job",
		Example: `  enrich jobs enqueue --kind narrative_postulation --payload '{"narrative":"..."}'
  enrich jobs enqueue --kind company_search --payload - < request.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw := []byte(payload)
			if payload == "-" {
				var err error
				if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("failed to read payload: %w", err)
				}
			}
			return withService(cmd, opts, func(ctx context.Context, s *job.Service) error {
				j, err := s.Enqueue(ctx, kind, json.RawMessage(raw))
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), j)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "job kind (see 'enrich jobs kinds')")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON object payload, or - to read it from stdin")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

func newJobsGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job ID %q: %w", args[0], err)
			}
			return withService(cmd, opts, func(ctx context.Context, s *job.Service) error {
				j, err := s.Get(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), j)
			})
		},
	}
}

func newJobsListCmd(opts *rootOptions) *cobra.Command {
	var (
		status string
		f      job.Filter
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" {
				s, err := job.ParseStatus(status)
				if err != nil {
					return err
				}
				f.Status = s
			}
			if f.Limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			return withService(cmd, opts, func(ctx context.Context, s *job.Service) error {
				jobs, err := s.List(ctx, f)
				if err != nil {
					return err
				}
				if jobs == nil {
					jobs = []*job.Job{}
				}
				return writeJSON(cmd.OutOrStdout(), jobs)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only jobs in this status (pending, running, succeeded, failed)")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "only jobs of this kind")
	cmd.Flags().IntVar(&f.Limit, "limit", job.DefaultListLimit, "maximum number of jobs; 0 for the store default")
	return cmd
}

func newJobsKindsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the registered job kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, func(_ context.Context, s *job.Service) error {
				return writeJSON(cmd.OutOrStdout(), s.Kinds())
			})
		},
	}
}
