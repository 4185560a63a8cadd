package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	newCVFile  string
	newDocFile string
)

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a tailoring session",
	Long: `Create a new tailoring session. Provide either raw CV text with
--cv-file (extracted into structured fields) or an already structured
JSON document with --doc-file. With neither, an empty session is
created and content is collected conversationally.`,
	RunE: runNew,
}

func init() {
	newCmd.Flags().StringVar(&newCVFile, "cv-file", "", "plain-text CV to extract from")
	newCmd.Flags().StringVar(&newDocFile, "doc-file", "", "structured document JSON")
	rootCmd.AddCommand(newCmd)
}

func runNew(cmd *cobra.Command, args []string) error {
	if newCVFile != "" && newDocFile != "" {
		return fmt.Errorf("--cv-file and --doc-file are mutually exclusive")
	}

	svc, cleanup, err := buildService()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()

	switch {
	case newCVFile != "":
		raw, err := os.ReadFile(newCVFile)
		if err != nil {
			return fmt.Errorf("failed to read CV file: %w", err)
		}
		sess, err := svc.CreateSessionFromText(ctx, string(raw))
		if err != nil {
			return err
		}
		fmt.Printf("Session %s created (stage %s)\n", sess.ID, sess.Stage)

	case newDocFile != "":
		raw, err := os.ReadFile(newDocFile)
		if err != nil {
			return fmt.Errorf("failed to read document file: %w", err)
		}
		var document map[string]interface{}
		if err := json.Unmarshal(raw, &document); err != nil {
			return fmt.Errorf("invalid document JSON: %w", err)
		}
		sess, err := svc.CreateSession(ctx, document)
		if err != nil {
			return err
		}
		fmt.Printf("Session %s created (stage %s)\n", sess.ID, sess.Stage)

	default:
		sess, err := svc.CreateSession(ctx, map[string]interface{}{})
		if err != nil {
			return err
		}
		fmt.Printf("Session %s created (stage %s)\n", sess.ID, sess.Stage)
	}

	return nil
}
