package command

import (
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/hamesh-go/internal/cli/output"
)

// BlacklistCommand returns the listener blacklist command group.
func BlacklistCommand() *cli.Command {
	return &cli.Command{
		Name:  "blacklist",
		Usage: "Listener sender blacklist",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "List the tracked senders",
				Action: blacklistStatus,
			},
			{
				Name:  "clear",
				Usage: "Forget one sender, or all of them",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "sender address"},
				},
				Action: func(c *cli.Context) error {
					return call(c, http.MethodPost, "/blacklist_clear", map[string]any{"addr": c.String("addr")})
				},
			},
		},
	}
}

type blacklistRow struct {
	Address     string    `json:"address"`
	Count       int       `json:"count"`
	LastAt      time.Time `json:"last_at"`
	BannedUntil time.Time `json:"banned_until"`
}

func blacklistStatus(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	resp, err := client.Get(background(c), "/blacklist_status", nil)
	if err != nil {
		return err
	}
	if _, f, _ := formatter(c); f != output.FormatTable {
		return render(c, resp.Data, resp.Info)
	}
	var entries []blacklistRow
	if err := resp.Decode(&entries); err != nil {
		return fmt.Errorf("decode blacklist: %w", err)
	}
	t := output.NewTable("ADDRESS", "COUNT", "LAST", "BANNED UNTIL")
	for _, e := range entries {
		banned := "-"
		if !e.BannedUntil.IsZero() {
			banned = e.BannedUntil.Format(time.RFC3339)
		}
		t.AddRow(e.Address, e.Count, e.LastAt.Format(time.RFC3339), banned)
	}
	return render(c, t, "")
}
