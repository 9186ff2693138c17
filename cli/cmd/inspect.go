package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/lanternworks/stitch/cli/render"
	"github.com/lanternworks/stitch/spool"
)

// InspectRow is one decoded spool envelope in the inspect report.
type InspectRow struct {
	CycleID     string `json:"cycle_id"`
	Source      string `json:"source"`
	ExternalID  string `json:"external_id"`
	Kind        string `json:"kind"`
	Disposition string `json:"disposition"`
	Error       string `json:"error,omitempty"`
	RecordedAt  string `json:"recorded_at"`
}

// InspectCommand returns the inspect command. It decodes a cycle spool
// file and is read-only.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Decode a cycle spool file",
		ArgsUsage: "<spool-file>",
		Flags: append(ReadOnlyFlags(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum records to show (0 = all)",
			},
			&cli.StringFlag{
				Name:  "disposition",
				Usage: "Only show records with this disposition: synced, failed, skipped",
			},
		),
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: stitch inspect <spool-file>", 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer f.Close()

	limit := c.Int("limit")
	filter := c.String("disposition")

	var rows []InspectRow
	reader := spool.NewReader(f)
	for {
		env, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if spool.IsTruncated(err) {
				// A truncated tail means the cycle crashed mid-write;
				// everything before it is still valid.
				fmt.Fprintln(os.Stderr, "warning: spool file is truncated")
				break
			}
			return cli.Exit(fmt.Sprintf("decode spool: %v", err), 1)
		}

		if filter != "" && env.Disposition != filter {
			continue
		}
		rows = append(rows, InspectRow{
			CycleID:     env.CycleID,
			Source:      env.Source,
			ExternalID:  env.ExternalID,
			Kind:        env.Kind,
			Disposition: env.Disposition,
			Error:       env.Error,
			RecordedAt:  env.RecordedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	return r.Render(rows)
}
