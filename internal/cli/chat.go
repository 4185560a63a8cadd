package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var chatSessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to a tailoring session",
	Long: `Start an interactive loop against a session. Each line is one
turn; the engine advances the workflow stage, applies any edits the
assistant makes, and reports the result. End with Ctrl-D or "exit".`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "session id (required)")
	chatCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := buildService()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := svc.Start(); err != nil {
		return err
	}

	ctx := cmd.Context()
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	fmt.Printf("Chatting with session %s. Type a message, or \"exit\" to quit.\n", chatSessionID)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		resp, err := svc.HandleTurn(ctx, chatSessionID, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
			continue
		}

		fmt.Printf("[%s] %s\n", resp.Stage, resp.Message)
		if resp.ArtifactID != "" {
			fmt.Printf("artifact: %s\n", resp.ArtifactID)
		}
		if resp.BudgetExhausted {
			fmt.Println("(tool budget for this turn was exhausted)")
		}
	}
	return scanner.Err()
}
