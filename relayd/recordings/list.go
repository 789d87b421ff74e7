package recordings

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/go-appsec/relay/relayd/cliutil"
	"github.com/go-appsec/relay/relayd/service"
)

func list(ctx context.Context, client *Client) error {
	resp, err := client.List(ctx)
	if err != nil {
		return fmt.Errorf("list recordings: %w", err)
	}

	if len(resp.Recordings) == 0 {
		cliutil.NoResults(os.Stdout, "No recordings stored.")
		return nil
	}

	printRecordingTable(resp.Recordings, resp.Bindings)
	return nil
}

func printRecordingTable(recordings []service.RecordingSummary, bindings map[string]string) {
	// Invert bindings so each recording row can show its bound keys.
	boundKeys := make(map[string][]string)
	for key, id := range bindings {
		boundKeys[id] = append(boundKeys[id], key)
	}

	t := cliutil.NewTable(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Label", "Kind", "Size", "Status", "Uses", "Bound Keys", "Created"})

	for _, r := range recordings {
		size := fmt.Sprintf("%d exchanges", r.ExchangeCount)
		if r.Kind == "media" {
			size = r.MediaType
		}
		keys := ""
		for i, k := range boundKeys[r.ID] {
			if i > 0 {
				keys += ", "
			}
			keys += k
		}
		t.AppendRow(table.Row{r.ID, r.Label, r.Kind, size, r.Status, r.UseCount, keys, r.CreatedAt})
	}
	t.Render()
	cliutil.Summary(os.Stdout, len(recordings), "recording", "recordings")
}
