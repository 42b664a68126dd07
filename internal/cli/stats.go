package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/observer/internal/models"
)

var (
	logsNewest  bool
	statsSystem bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the last lines of the server log",
	Args:  cobra.NoArgs,
	RunE:  runLogs,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show capture and response statistics",
	Long: `Show totals, today's activity, storage use and the last 24 hours.

Examples:
  observer stats
  observer stats --system`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	logsCmd.Flags().BoolVar(&logsNewest, "newest", false, "newest line first")
	statsCmd.Flags().BoolVar(&statsSystem, "system", false, "also print server and runtime information")
}

func runLogs(cmd *cobra.Command, args []string) error {
	logs, err := apiClient.Logs(context.Background(), logsNewest)
	if err != nil {
		return fmt.Errorf("get logs: %w", err)
	}
	fmt.Println(logs)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	stats, err := apiClient.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	printStats(stats)

	if statsSystem {
		info, err := apiClient.System(ctx)
		if err != nil {
			return fmt.Errorf("get system info: %w", err)
		}
		out, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("format system info: %w", err)
		}
		fmt.Println()
		fmt.Println(string(out))
	}
	return nil
}

func printStats(stats *models.Stats) {
	t := stats.TotalStats
	fmt.Println(defaultTheme.statusStyle().Render("Totals"))
	fmt.Printf("  Captures:   %d (%d today)\n", t.Captures, t.TodayCaptures)
	fmt.Printf("  Responses:  %d (%d today)\n", t.Responses, t.TodayResponses)
	fmt.Printf("  Storage:    %s images, %s responses\n",
		formatBytes(t.StorageUsage.Captures), formatBytes(t.StorageUsage.Responses))

	peak := 1
	for _, h := range stats.HourlyStats {
		peak = max(peak, h.Captures+h.Responses)
	}

	fmt.Println()
	fmt.Println(defaultTheme.statusStyle().Render("Last 24 hours"))
	for _, h := range stats.HourlyStats {
		if h.Captures == 0 && h.Responses == 0 && !verbose {
			continue
		}
		bar := strings.Repeat("█", (h.Captures+h.Responses)*30/peak)
		fmt.Printf("  %s  %3d captures  %3d responses  %s\n", h.Hour, h.Captures, h.Responses, bar)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
