package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forecast-agent/backend/internal/app"
	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/forecast"
	"github.com/forecast-agent/backend/internal/report"
	"github.com/forecast-agent/backend/pkg/config"
	appLogger "github.com/forecast-agent/backend/pkg/logger"
)

var version = "dev"

var (
	verbose bool
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "forecast",
	Short:         "Qualitative and quantitative company forecasts",
	Long:          "forecast acquires a company's recent quarterly reports and earnings call transcripts and synthesizes a business outlook from them.",
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		return appLogger.Init(level, "console", "stderr")
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		appLogger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	runCmd.Flags().String("company", forecast.DefaultCompany, "Company ticker to forecast")
	runCmd.Flags().Int("quarters", forecast.DefaultQuarters, "Number of recent quarters to analyze")
	runCmd.Flags().String("request-id", "", "Request id to use instead of a generated one")
	runCmd.Flags().Bool("json", false, "Print the forecast as JSON instead of a markdown report")

	historyCmd.Flags().Int("limit", 10, "Number of forecasts to list")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate one forecast",
	RunE: func(cmd *cobra.Command, args []string) error {
		company, _ := cmd.Flags().GetString("company")
		quarters, _ := cmd.Flags().GetInt("quarters")
		requestID, _ := cmd.Flags().GetString("request-id")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		progress := forecast.ObserverFunc(func(id string, record domain.StageRecord) {
			if verbose {
				fmt.Fprintf(os.Stderr, "[%s] %s %s\n", id, record.Stage, record.Detail)
			}
		})

		result, err := a.Service.Run(ctx, forecast.Request{
			Company:   company,
			Quarters:  quarters,
			RequestID: requestID,
		}, progress)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		fmt.Fprint(cmd.OutOrStdout(), report.Markdown(result))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent forecasts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		records, err := a.Service.History(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("loading history: %w", err)
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No forecasts yet.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "REQUEST ID\tCOMPANY\tCREATED\tDEGRADATIONS")
		for _, r := range records {
			degradations := 0
			if r.Forecast != nil {
				degradations = len(r.Forecast.Degradations)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.RequestID, r.Company, r.CreatedAt.Format("2006-01-02 15:04:05"), degradations)
		}
		return w.Flush()
	},
}
