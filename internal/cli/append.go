package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustlog/internal/ledger"
	"github.com/ppiankov/trustlog/internal/model"
)

var (
	appendActor      string
	appendOccurredAt string
	appendResource   string
	appendResourceID string
	appendOutcome    string
	appendMetadata   string
)

func init() {
	rootCmd.AddCommand(appendCmd)
	appendCmd.Flags().StringVar(&appendActor, "actor", "", "Acting principal (default anonymous)")
	appendCmd.Flags().StringVar(&appendOccurredAt, "occurred-at", "", "RFC3339 time the event happened (default now)")
	appendCmd.Flags().StringVar(&appendResource, "resource", "", "Kind of thing acted on")
	appendCmd.Flags().StringVar(&appendResourceID, "resource-id", "", "Identifier of the thing acted on")
	appendCmd.Flags().StringVar(&appendOutcome, "outcome", "", "Result of the action (e.g. success, failure)")
	appendCmd.Flags().StringVar(&appendMetadata, "metadata", "", "Free-form context as a JSON object")
}

var appendCmd = &cobra.Command{
	Use:   "append <event-type>",
	Short: "Record an audit event",
	Long:  "Appends one entry to the chain and prints the committed entry,\nincluding its sequence, prev_hash and integrity_hash.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAppend,
}

func runAppend(cmd *cobra.Command, args []string) error {
	req := model.AppendRequest{
		ActorID:    appendActor,
		EventType:  args[0],
		Resource:   optionalFlag(appendResource),
		ResourceID: optionalFlag(appendResourceID),
		Outcome:    optionalFlag(appendOutcome),
	}

	if appendOccurredAt != "" {
		occurred, err := time.Parse(time.RFC3339, appendOccurredAt)
		if err != nil {
			return fmt.Errorf("invalid --occurred-at: %w", err)
		}
		req.OccurredAt = occurred
	}
	if appendMetadata != "" {
		if err := json.Unmarshal([]byte(appendMetadata), &req.Metadata); err != nil {
			return fmt.Errorf("invalid --metadata: %w", err)
		}
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	entry, err := ledger.NewAppender(st, nil).Append(context.Background(), req)
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(entry, "", "  ")
	fmt.Println(string(out))
	return nil
}

func optionalFlag(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
