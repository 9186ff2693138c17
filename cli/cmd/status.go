package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/lanternworks/stitch/cli/render"
	"github.com/lanternworks/stitch/state"
)

// StatusRow is one line of the status report.
type StatusRow struct {
	Source string `json:"source"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// StatusCommand returns the status command. It reports sync state
// counts per source and status, and is read-only.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show sync state counts per source and status",
		Flags:  append(ReadOnlyFlags(), StateFlag),
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	store, err := state.Open(c.String("state"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() { _ = store.Close() }()

	counts, err := store.Counts(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	rows := make([]StatusRow, 0, len(counts))
	for _, sc := range counts {
		rows = append(rows, StatusRow{
			Source: string(sc.Source),
			Status: string(sc.Status),
			Count:  sc.Count,
		})
	}
	return r.Render(rows)
}
