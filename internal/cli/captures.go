package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/observer/internal/models"
)

var (
	capturesArchived bool
	capturesLimit    int
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture a frame from the server's camera",
	Args:  cobra.NoArgs,
	RunE:  runCapture,
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload an image file as a capture",
	Long: `Upload an image file to the server. It is stored like a camera capture
and goes out with the next send.

Examples:
  observer upload desk.png
  observer upload ~/Pictures/whiteboard.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var capturesCmd = &cobra.Command{
	Use:   "captures",
	Short: "List recent or archived captures",
	Long: `List captures, newest first.

Recent captures are the ones the next send will use. Captures move to the
archive once they were sent.

Examples:
  observer captures
  observer captures --limit 5
  observer captures --archived`,
	Args: cobra.NoArgs,
	RunE: runCaptures,
}

var moveCmd = &cobra.Command{
	Use:   "move <capture-id> <archive|unarchive>",
	Short: "Move a capture between recent and archived",
	Args:  cobra.ExactArgs(2),
	RunE:  runMove,
}

var deleteImageCmd = &cobra.Command{
	Use:   "delete-image <capture-id>",
	Short: "Delete a capture",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteImage,
}

func init() {
	capturesCmd.Flags().BoolVarP(&capturesArchived, "archived", "a", false, "list archived captures")
	capturesCmd.Flags().IntVarP(&capturesLimit, "limit", "n", 0, "max results (recent only, server default 10)")
}

func runCapture(cmd *cobra.Command, args []string) error {
	res, err := apiClient.Capture(context.Background())
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	fmt.Println(defaultTheme.completedStyle().Render("✓ " + res.Message))
	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	res, err := apiClient.Upload(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	fmt.Println(defaultTheme.completedStyle().Render("✓ " + res.Message))
	return nil
}

func runCaptures(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var (
		captures []models.Capture
		err      error
		label    = "Recent captures"
	)
	if capturesArchived {
		label = "Archived captures"
		captures, err = apiClient.ArchivedCaptures(ctx)
	} else {
		captures, err = apiClient.RecentCaptures(ctx, capturesLimit)
	}
	if err != nil {
		return fmt.Errorf("list captures: %w", err)
	}

	if len(captures) == 0 {
		fmt.Println("No captures found.")
		return nil
	}

	fmt.Printf("%s (%d):\n\n", label, len(captures))
	for _, c := range captures {
		line := fmt.Sprintf("- %s  %s  %s", c.ID, c.Timestamp.Local().Format(time.DateTime), c.FileType)
		if c.Filename != "" {
			line += "  " + c.Filename
		}
		fmt.Println(line)
		if verbose {
			fmt.Printf("  %s/captures/%s/image (%d bytes base64)\n", apiClient.BaseURL(), c.ID, len(c.ImageData))
		}
	}
	return nil
}

func runMove(cmd *cobra.Command, args []string) error {
	action := args[1]
	if action != "archive" && action != "unarchive" {
		return fmt.Errorf("action must be archive or unarchive, got %q", action)
	}

	msg, err := apiClient.Move(context.Background(), args[0], action)
	if err != nil {
		return fmt.Errorf("move: %w", err)
	}
	fmt.Println(defaultTheme.completedStyle().Render("✓ " + msg))
	return nil
}

func runDeleteImage(cmd *cobra.Command, args []string) error {
	if err := apiClient.DeleteImage(context.Background(), args[0]); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	fmt.Printf("Deleted capture: %s\n", args[0])
	return nil
}
