package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	generateSessionID string
	generateOutFile   string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate the tailored PDF for a session",
	Long: `Generate the PDF for a session's current content. Generation is
idempotent: unchanged content returns the existing artifact. A document
that fails validation blocks with the list of missing fields.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&generateSessionID, "session", "", "session id (required)")
	generateCmd.Flags().StringVar(&generateOutFile, "out", "", "write the PDF to this path")
	generateCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := buildService()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := svc.Generate(cmd.Context(), generateSessionID)
	if err != nil {
		return err
	}

	if result.Blocked {
		fmt.Println("Generation blocked; the document is not ready:")
		for _, e := range result.BlockedReason {
			if e.Field != "" {
				fmt.Printf("  - %s.%s: %s\n", e.Section, e.Field, e.Message)
			} else {
				fmt.Printf("  - %s: %s\n", e.Section, e.Message)
			}
		}
		return fmt.Errorf("document failed validation")
	}

	if result.Reused {
		fmt.Printf("Artifact %s (reused, content unchanged)\n", result.ArtifactID)
	} else {
		fmt.Printf("Artifact %s generated\n", result.ArtifactID)
	}

	if generateOutFile != "" {
		data, err := svc.FetchArtifact(result.ArtifactID)
		if err != nil {
			return err
		}
		if err := os.WriteFile(generateOutFile, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", generateOutFile, err)
		}
		fmt.Printf("Wrote %d bytes to %s\n", len(data), generateOutFile)
	}
	return nil
}
