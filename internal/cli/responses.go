package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	sendPlain      bool
	responsesLimit int
)

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send the recent captures with a prompt to the vision model",
	Long: `Send the most recent captures (up to 5) together with a prompt.

The reply is stored on the server and the captures that were sent are
archived.

Examples:
  observer send "What is on the desk?"
  observer send --plain "Describe the room" > answer.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

var responsesCmd = &cobra.Command{
	Use:   "responses",
	Short: "List stored responses",
	Args:  cobra.NoArgs,
	RunE:  runResponses,
}

var deleteResponseCmd = &cobra.Command{
	Use:   "delete-response <response-id>",
	Short: "Delete a response",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteResponse,
}

func init() {
	sendCmd.Flags().BoolVar(&sendPlain, "plain", false, "no spinner, print only the answer")
	responsesCmd.Flags().IntVarP(&responsesLimit, "limit", "n", 0, "max results (server default 10)")
}

func runSend(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")

	if sendPlain || !term.IsTerminal(int(os.Stdout.Fd())) {
		res, err := apiClient.Send(context.Background(), message)
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		fmt.Println(res.Content())
		return nil
	}

	res, err := RunSend(apiClient, message)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if res != nil && verbose {
		out, err := json.MarshalIndent(res.Response, "", "  ")
		if err != nil {
			return fmt.Errorf("format response: %w", err)
		}
		fmt.Println(string(out))
	}
	return nil
}

func runResponses(cmd *cobra.Command, args []string) error {
	responses, err := apiClient.RecentResponses(context.Background(), responsesLimit)
	if err != nil {
		return fmt.Errorf("list responses: %w", err)
	}

	if len(responses) == 0 {
		fmt.Println("No responses found.")
		return nil
	}

	fmt.Printf("Responses (%d):\n\n", len(responses))
	for _, r := range responses {
		header := fmt.Sprintf("%s  %s  (%d captures)", r.ID, r.Timestamp.Local().Format(time.DateTime), len(r.CaptureIDs))
		fmt.Println(defaultTheme.statusStyle().Render(header))
		if r.Message != "" {
			fmt.Println(defaultTheme.hintStyle().Render("> " + r.Message))
		}
		fmt.Println(r.Content())
		if verbose {
			fmt.Printf("  captures: %s\n", strings.Join(r.CaptureIDs, ", "))
		}
		fmt.Println()
	}
	return nil
}

func runDeleteResponse(cmd *cobra.Command, args []string) error {
	if err := apiClient.DeleteResponse(context.Background(), args[0]); err != nil {
		return fmt.Errorf("delete response: %w", err)
	}
	fmt.Printf("Deleted response: %s\n", args[0])
	return nil
}
