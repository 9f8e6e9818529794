package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustlog/internal/model"
	"github.com/ppiankov/trustlog/internal/query"
)

var (
	queryEventType string
	queryActor     string
	queryResource  string
	queryOutcome   string
	querySearch    string
	queryFrom      string
	queryTo        string
	queryLimit     int
	queryOffset    int
	queryOrder     string
	queryJSON      bool
)

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVar(&queryEventType, "event-type", "", "Exact event type to match")
	queryCmd.Flags().StringVar(&queryActor, "actor", "", "Exact actor to match")
	queryCmd.Flags().StringVar(&queryResource, "resource", "", "Exact resource to match")
	queryCmd.Flags().StringVar(&queryOutcome, "outcome", "", "Exact outcome to match")
	queryCmd.Flags().StringVar(&querySearch, "search", "", "Substring over event type, actor and resource")
	queryCmd.Flags().StringVar(&queryFrom, "from", "", "RFC3339 window start, inclusive")
	queryCmd.Flags().StringVar(&queryTo, "to", "", "RFC3339 window end, inclusive")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "Page size (default 20, max 1000)")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "Rows to skip")
	queryCmd.Flags().StringVar(&queryOrder, "order", "desc", "Sort order: asc or desc")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Print the raw result page as JSON")
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search committed audit entries",
	Long:  "All filters are ANDed. Results are newest first unless --order=asc.\nThe footer reports the total match count for paging.",
	RunE:  runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	req, err := buildQueryRequest()
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	page, err := query.NewEngine(st).Query(context.Background(), req)
	if err != nil {
		return err
	}

	if queryJSON {
		out, _ := json.MarshalIndent(page, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	printPage(page)
	return nil
}

func buildQueryRequest() (model.QueryRequest, error) {
	req := model.QueryRequest{
		Filter: model.Filter{
			EventType: queryEventType,
			ActorID:   queryActor,
			Resource:  queryResource,
			Outcome:   queryOutcome,
			Search:    querySearch,
		},
		Limit:  queryLimit,
		Offset: queryOffset,
	}

	var err error
	if queryFrom != "" {
		if req.Filter.From, err = time.Parse(time.RFC3339, queryFrom); err != nil {
			return req, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if queryTo != "" {
		if req.Filter.To, err = time.Parse(time.RFC3339, queryTo); err != nil {
			return req, fmt.Errorf("invalid --to: %w", err)
		}
	}

	switch queryOrder {
	case "desc":
		req.Order = model.OccurredDesc
	case "asc":
		req.Order = model.OccurredAsc
	default:
		return req, fmt.Errorf("invalid --order %q: want asc or desc", queryOrder)
	}
	return req, nil
}

func printPage(page *model.Page) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tOCCURRED\tACTOR\tEVENT\tRESOURCE\tOUTCOME")
	for _, e := range page.Entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Sequence,
			e.OccurredAt.UTC().Format(time.RFC3339),
			e.ActorID,
			e.EventType,
			deref(e.Resource),
			deref(e.Outcome),
		)
	}
	w.Flush()
	fmt.Printf("\n%d of %d entries (offset %d)\n", len(page.Entries), page.Total, page.Offset)
	if page.HasMore {
		fmt.Printf("more available: --offset %d\n", page.Offset+len(page.Entries))
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
