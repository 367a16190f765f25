package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"docintel/logger"
	"docintel/pipeline"
	"docintel/types"

	"github.com/spf13/cobra"
)

func newExtractCommand(build Builder) *cobra.Command {
	var bucket, key string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract text from a stored PDF and index it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(key) == "" {
				return errors.New("--key is required")
			}
			app, err := setup(cmd.Context(), build)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer app.Close()

			if bucket == "" {
				bucket = app.Config.Storage.Bucket
			}
			text, err := app.Pipeline.ExtractAndIndex(cmd.Context(), types.SourceRef{Container: bucket, ObjectKey: strings.TrimSpace(key)})
			if err != nil {
				return fmt.Errorf("extract failed: %w", err)
			}
			cmd.Println(text)
			return nil
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "bucket holding the document (default storage.bucket)")
	cmd.Flags().StringVar(&key, "key", "", "object key of the document")
	return cmd
}

func newAskCommand(build Builder) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := args[0]
			if strings.TrimSpace(question) == "" {
				return errors.New("question must not be empty")
			}
			app, err := setup(cmd.Context(), build)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer app.Close()

			answer, err := app.Answerer.Answer(cmd.Context(), question)
			if errors.Is(err, types.ErrNoEvidence) {
				answer = &types.Answer{Text: pipeline.InsufficientInformation, Grounded: true, Overlap: 1, Code: types.KindNoEvidence.String()}
			} else if err != nil {
				return fmt.Errorf("ask failed: %w", err)
			}
			return printAnswer(cmd, answer, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the answer as JSON")
	return cmd
}

func newIngestCommand(build Builder) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Publish a stored PDF as a knowledge base and link it to the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(key) == "" {
				return errors.New("--key is required")
			}
			app, err := setup(cmd.Context(), build)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer app.Close()

			id, err := app.Ingester.Ingest(cmd.Context(), types.SourceRef{Container: app.Config.Storage.Bucket, ObjectKey: strings.TrimSpace(key)})
			if err != nil {
				return fmt.Errorf("ingest failed: %w", err)
			}
			cmd.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "object key of the document in storage.bucket")
	return cmd
}

func printAnswer(cmd *cobra.Command, answer *types.Answer, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(answer, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(answer.Text)
	if len(answer.Sources) == 0 {
		return nil
	}
	cmd.Println()
	cmd.Println("Sources:")
	for i, s := range answer.Sources {
		cmd.Printf("  [%d] %s (%.3f)\n", i+1, s.ID, s.Score)
	}
	if !answer.Grounded {
		cmd.Printf("\nwarning: only %.0f%% of the answer's terms appear in the sources\n", answer.Overlap*100)
	}
	return nil
}
