package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tournevent/fulfillment/internal/fulfillment"
	"github.com/tournevent/fulfillment/internal/server"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fulfillment",
	Short:   "Storefront shipping fulfillment - registers orders with the logistics provider",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var fulfillCmd = &cobra.Command{
	Use:   "fulfill <order-id>",
	Short: "Fulfill a single order",
	Args:  cobra.ExactArgs(1),
	RunE:  runFulfill,
}

var batchCmd = &cobra.Command{
	Use:   "batch <order-id>...",
	Short: "Fulfill several orders one after another",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBatch,
}

var quotesCmd = &cobra.Command{
	Use:   "quotes <order-id>",
	Short: "List courier quotes for an order, cheapest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuotes,
}

var courierID int

func init() {
	fulfillCmd.Flags().IntVar(&courierID, "courier-id", 0, "courier company id to use instead of the cheapest")
	batchCmd.Flags().IntVar(&courierID, "courier-id", 0, "courier company id to use for every order")
	rootCmd.AddCommand(serveCmd, fulfillCmd, batchCmd, quotesCmd)
}

// withApp loads configuration and telemetry, builds the stack and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracer, tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
		tracer = otel.Tracer(cfg.ServiceName)
		tracerShutdown = func(context.Context) error { return nil }
	}
	defer tracerShutdown(context.Background())

	a, err := newApp(ctx, cfg, logger, tracer)
	if err != nil {
		logger.Error("Failed to start", zap.Error(err))
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		a.logger.Info("Starting fulfillment service",
			zap.Int("port", a.cfg.Port),
			zap.String("version", a.cfg.Version),
		)
		srv := server.New(server.Config{Port: a.cfg.Port}, a.orchestrator, a.batch, nil, a.logger)
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
}

func runFulfill(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		res, err := a.orchestrator.FulfillOrder(ctx, args[0], fulfillment.FulfillOptions{CourierID: courierID})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Message())
		for _, w := range res.Warnings {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
		}
		return nil
	})
}

func runBatch(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		out := cmd.ErrOrStderr()
		res := a.batch.Run(ctx, args, courierID, func(r fulfillment.BatchResult) {
			last := r.PerOrder[len(r.PerOrder)-1]
			fmt.Fprintf(out, "[%d/%d] %s: %s\n", r.Completed, r.Total, last.OrderLabel, last.Message)
		})
		return printJSON(cmd, res)
	})
}

func runQuotes(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		options, err := a.orchestrator.GetCourierQuotes(ctx, args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, o := range options {
			fmt.Fprintf(w, "%6d  %-30s  %10.2f  %s days  cod=%t\n",
				o.CourierCompanyID, o.CourierName, o.Rate, o.EstimatedDeliveryDays, o.CODAvailable)
		}
		return nil
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
