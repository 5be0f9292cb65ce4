package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/TipQueue/internal/pkg/billing"
	"github.com/ManuelReschke/TipQueue/internal/pkg/cache"
	"github.com/ManuelReschke/TipQueue/internal/pkg/config"
	"github.com/ManuelReschke/TipQueue/internal/pkg/database"
	"github.com/ManuelReschke/TipQueue/internal/pkg/engine"
	"github.com/ManuelReschke/TipQueue/internal/pkg/env"
	"github.com/ManuelReschke/TipQueue/internal/pkg/jobqueue"
	"github.com/ManuelReschke/TipQueue/internal/pkg/period"
)

func loadConfig() (*config.Config, error) {
	env.SetupEnvFile()
	return config.Load()
}

func bootstrap(ctx context.Context) (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := database.SetupDatabase(cfg.Database); err != nil {
		return nil, err
	}
	return engine.New(ctx, cfg, database.GetDB())
}

// monthFlags resolves --year/--month, defaulting to the previous UTC month.
func monthFlags(cmd *cobra.Command) (int, int) {
	year, _ := cmd.Flags().GetInt("year")
	month, _ := cmd.Flags().GetInt("month")
	if year == 0 && month == 0 {
		p := period.Previous(time.Now())
		return p.Year(), p.Month()
	}
	return year, month
}

func addMonthFlags(cmd *cobra.Command) {
	cmd.Flags().Int("year", 0, "Year of the payout period (default: previous month)")
	cmd.Flags().Int("month", 0, "Month 1-12 of the payout period (default: previous month)")
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Schedule payouts for a month now and print the run result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			year, month := monthFlags(cmd)
			run := eng.Scheduler.ScheduleMonthlyPayouts
			if sweep, _ := cmd.Flags().GetBool("sweep"); sweep {
				run = eng.Scheduler.SweepMonthlyPayouts
			}
			res, err := run(ctx, year, month)
			if res != nil {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d creators failed, rerun to retry", len(res.Failed))
			}
			return nil
		},
	}
	addMonthFlags(cmd)
	cmd.Flags().Bool("sweep", false, "only refresh payouts that are still pending")
	return cmd
}

func enqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a payout run for the server's job workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cache.SetupCache(cfg.Cache)
			year, month := monthFlags(cmd)
			job, err := jobqueue.NewQueue(1).EnqueueSchedulePayouts(year, month, jobqueue.ReasonCLI)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued job %s for %04d-%02d\n", job.ID, year, month)
			return nil
		},
	}
	addMonthFlags(cmd)
	return cmd
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary [creator-slug]",
		Short: "Print the earnings dashboard of a creator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			d, err := eng.Earnings.Dashboard(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		},
	}
}

func reportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports [YYYY-MM]",
		Short: "List archived run reports of a month, or print one with --key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			if eng.Archive == nil {
				return errors.New("run report archive is not enabled (S3_ARCHIVE_ENABLED)")
			}

			if key, _ := cmd.Flags().GetString("key"); key != "" {
				res, err := eng.Archive.FetchRun(ctx, key)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}

			p := period.Previous(time.Now())
			if len(args) == 1 {
				if p, err = period.ParseKey(args[0]); err != nil {
					return err
				}
			}
			keys, err := eng.Archive.ListRuns(ctx, p.Key())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
	cmd.Flags().String("key", "", "Object key of a report to print")
	return cmd
}

// signWebhookCmd prints a Stripe-Signature header for a captured event so it
// can be replayed against a local server with the configured secret.
func signWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign-webhook [payload.json]",
		Short: "Sign a webhook payload with STRIPE_WEBHOOK_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Stripe.WebhookSecret == "" {
				return errors.New("STRIPE_WEBHOOK_SECRET is not set")
			}
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			header := billing.SignStripePayload(payload, cfg.Stripe.WebhookSecret, time.Now())
			fmt.Fprintln(cmd.OutOrStdout(), header)
			return nil
		},
	}
	return cmd
}
