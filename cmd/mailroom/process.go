package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/halcyoncap/mailroom/internal/document"
)

var (
	processSender  string
	processSubject string
	processBody    string
)

var processCmd = &cobra.Command{
	Use:   "process <attachment>",
	Short: "Run one attachment through the pipeline",
	Long: `Process reads an attachment file, runs it through validation,
duplicate detection, identification, classification, and routing, and
prints the resulting decision as JSON.

Examples:
  # Process with email context
  mailroom process rent_roll.pdf --sender reports@meridian.com \
    --subject "Q3 rent roll" --body "Please find attached"`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processSender, "sender", "", "sender email address")
	processCmd.Flags().StringVar(&processSubject, "subject", "", "email subject line")
	processCmd.Flags().StringVar(&processBody, "body", "", "email body text")
}

func runProcess(cmd *cobra.Command, args []string) error {
	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading attachment: %w", err)
	}

	c, err := buildContainer(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	result := c.Pipeline.Process(cmd.Context(), document.Attachment{
		Filename: filepath.Base(args[0]),
		Content:  content,
	}, document.EmailContext{
		SenderEmail: processSender,
		Subject:     processSubject,
		Body:        processBody,
	})

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if result.Status != document.StatusSuccess && result.Status != document.StatusDuplicate {
		return fmt.Errorf("attachment rejected: %s", result.Status)
	}
	return nil
}
