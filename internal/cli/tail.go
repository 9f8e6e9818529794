package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustlog/internal/model"
	"github.com/ppiankov/trustlog/internal/query"
)

var tailLines int

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit entries",
	Long:  "Prints the last N committed entries, oldest of them first.\nFor a live feed, connect to GET /v1/entries/stream on a running server.",
	RunE:  runTail,
}

func runTail(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	page, err := query.NewEngine(st).Query(context.Background(), model.QueryRequest{
		Limit: tailLines,
		Order: model.OccurredDesc,
	})
	if err != nil {
		return err
	}

	// Newest-first page, printed oldest first like tail(1).
	for i := len(page.Entries) - 1; i >= 0; i-- {
		out, _ := json.MarshalIndent(page.Entries[i], "", "  ")
		fmt.Println(string(out))
	}
	return nil
}
