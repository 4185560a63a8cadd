package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	statusSessionID string
	statusJSON      bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a session's stage, version, and validation state",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusSessionID, "session", "", "session id (required)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit machine-readable output")
	statusCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := buildService()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	sess, err := svc.GetSession(ctx, statusSessionID)
	if err != nil {
		return err
	}
	result, err := svc.Validate(ctx, statusSessionID)
	if err != nil {
		return err
	}

	if statusJSON {
		out := map[string]interface{}{
			"session_id": sess.ID,
			"stage":      sess.Stage,
			"version":    sess.Version,
			"expires_at": sess.ExpiresAt,
			"artifacts":  len(sess.ArtifactRefs),
			"validation": result,
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Session:  %s\n", sess.ID)
	fmt.Printf("Stage:    %s\n", sess.Stage)
	fmt.Printf("Version:  %d\n", sess.Version)
	fmt.Printf("Expires:  %s\n", sess.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Artifacts: %d\n", len(sess.ArtifactRefs))
	if result.Ready {
		fmt.Println("Validation: ready for generation")
	} else {
		fmt.Printf("Validation: %d error(s)\n", len(result.Errors))
		for _, e := range result.Errors {
			if e.Field != "" {
				fmt.Printf("  - %s.%s: %s\n", e.Section, e.Field, e.Message)
			} else {
				fmt.Printf("  - %s: %s\n", e.Section, e.Message)
			}
		}
	}
	for _, w := range result.Warnings {
		fmt.Printf("  warning %s: %s\n", w.Section, w.Message)
	}
	return nil
}
