package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/internal/orchestrator"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type rootOptions struct {
	logLevel    string
	console     bool
	paperPrices string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "riskgate",
		Short:         "Multi-tenant trade approval and lockdown control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	root.PersistentFlags().BoolVar(&opts.console, "console", false, "human readable console logs")
	root.PersistentFlags().StringVar(&opts.paperPrices, "paper-prices", "", "YAML file with paper market prices")

	root.AddCommand(serveCmd(opts))
	root.AddCommand(submitCmd(opts))
	root.AddCommand(lockCmd(opts))
	root.AddCommand(releaseCmd(opts))
	root.AddCommand(cycleCmd(opts, "scan", "Scan every tenant now, ignoring scan intervals"))
	root.AddCommand(cycleCmd(opts, "daily", "Run the end of day cycle for every tenant"))
	return root
}

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, HTTP API and operator bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := verifyHeartbeat(ctx, a.prices, a.heartbeat); err != nil {
				return err
			}
			if err := a.scheduler.Start(ctx); err != nil {
				return err
			}
			defer a.scheduler.Stop()

			var wg sync.WaitGroup
			if a.bot != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					a.bot.Start(ctx)
				}()
			}

			server := a.apiServer()
			serverErr := make(chan error, 1)
			go func() { serverErr <- server.Start() }()

			a.logger.Info("🚀 Risk gate running")
			select {
			case <-ctx.Done():
				a.logger.Info("🛑 Shutdown signal received")
			case err = <-serverErr:
				if err != nil {
					a.logger.Error("❌ HTTP server failed: %v", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if serr := server.Shutdown(shutdownCtx); serr != nil {
				a.logger.Warn("⚠️ HTTP shutdown: %v", serr)
			}
			wg.Wait()
			a.logger.Info("👋 Stopped")
			return err
		},
	}
}

func submitCmd(opts *rootOptions) *cobra.Command {
	var (
		source        string
		submittedBy   string
		notes         string
		holdOnCooling bool
	)
	cmd := &cobra.Command{
		Use:   "submit TENANT SYMBOL buy|sell QUANTITY",
		Short: "Submit one trade intent through the approval pipeline",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("%w: quantity %q is not a number", domain.ErrInvalidInput, args[3])
			}
			intent, err := domain.NewTradeIntent(domain.IntentParams{
				TenantID:      args[0],
				Symbol:        args[1],
				Action:        domain.Action(strings.ToLower(args[2])),
				Quantity:      qty,
				Source:        domain.SourceType(strings.ToLower(source)),
				SubmittedBy:   submittedBy,
				Notes:         notes,
				HoldOnCooling: holdOnCooling,
			}, time.Now())
			if err != nil {
				return err
			}

			a, err := buildApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.service.Submit(cmd.Context(), args[0], intent)
			if rec != nil {
				if perr := printJSON(cmd.OutOrStdout(), rec); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&source, "source", string(domain.SourceManual), "intent source (manual, strategy, system)")
	cmd.Flags().StringVar(&submittedBy, "by", "cli", "submitter id")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	cmd.Flags().BoolVar(&holdOnCooling, "hold", false, "hold the intent while Silent Mode is active instead of rejecting")
	return cmd
}

func lockCmd(opts *rootOptions) *cobra.Command {
	var (
		symbol string
		days   int
		reason string
		actor  string
	)
	cmd := &cobra.Command{
		Use:   "lock TENANT silent|killswitch",
		Short: "Apply Silent Mode or a kill switch manually",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[1])
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.service.TriggerLock(cmd.Context(), args[0], orchestrator.LockRequest{
				Kind:   kind,
				Symbol: symbol,
				Days:   days,
				Reason: reason,
				Actor:  actor,
			})
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), a.service, args[0])
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "asset symbol; empty locks the whole account")
	cmd.Flags().IntVar(&days, "days", 1, "Silent Mode duration in trading days")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit trail")
	cmd.Flags().StringVar(&actor, "actor", "cli", "operator id")
	return cmd
}

func releaseCmd(opts *rootOptions) *cobra.Command {
	var (
		symbol string
		actor  string
	)
	cmd := &cobra.Command{
		Use:   "release TENANT silent|killswitch",
		Short: "Release an active lock manually",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[1])
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.service.ReleaseLock(cmd.Context(), args[0], kind, symbol, actor); err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), a.service, args[0])
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "asset symbol; empty releases the account lock")
	cmd.Flags().StringVar(&actor, "actor", "cli", "operator id")
	return cmd
}

func cycleCmd(opts *rootOptions, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			run := a.scheduler.ScanAll
			if name == "daily" {
				run = a.scheduler.RunDailyCycle
			}
			res, err := run(cmd.Context())
			if res != nil {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return errors.Join(err, perr)
				}
			}
			return err
		},
	}
}

func parseKind(s string) (domain.LockKind, error) {
	switch strings.ToLower(s) {
	case "silent":
		return domain.LockSilent, nil
	case "killswitch", "kill":
		return domain.LockKillSwitch, nil
	}
	return "", fmt.Errorf("%w: unknown lock kind %q", domain.ErrInvalidInput, s)
}

func printStatus(w io.Writer, svc *orchestrator.Service, tenantID string) error {
	st, err := svc.Status(tenantID)
	if err != nil {
		return err
	}
	return printJSON(w, st)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
