package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"apsta"
	"apsta/cmd/apstad/ui"
	"apsta/config"
	"apsta/journal"

	"github.com/spf13/cobra"
)

func journalCmd() *cobra.Command {
	var (
		dbPath     string
		configPath string
		peer       string
		limit      int
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print recent station, peer and outbound journal entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ui.ConfigureColor(noColor)

			var only *apsta.PeerID
			if peer != "" {
				p, err := apsta.ParsePeerID(peer, 0)
				if err != nil {
					return err
				}
				only = &p
			}

			if dbPath == "" {
				if configPath == "" {
					configPath = config.Path()
				}
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				dbPath = cfg.Journal.Path
			}
			if dbPath == "" {
				return fmt.Errorf("journal is disabled; pass --db or set journal.path")
			}

			store, err := journal.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			fetch := limit
			if only != nil {
				fetch = 0
			}
			entries, err := store.List(cmd.Context(), fetch)
			if err != nil {
				return err
			}
			if only != nil {
				entries = peerEntries(entries, *only, limit)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderJournal(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Journal database (default from config)")
	cmd.Flags().StringVar(&configPath, "config", "", "Config file (default $APSTA_CONFIG or /etc/apsta/apsta.yaml)")
	cmd.Flags().StringVar(&peer, "peer", "", "Only show join and leave entries for this hardware address")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries, newest first; 0 for all")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colour output")
	return cmd
}

// peerEntries keeps the peer entries for p, at most limit of them when limit
// is positive.
func peerEntries(entries []journal.Entry, p apsta.PeerID, limit int) []journal.Entry {
	var out []journal.Entry
	for _, e := range entries {
		if e.Kind != journal.KindPeer || !strings.HasPrefix(e.Subject, p.MAC+" ") {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func renderJournal(entries []journal.Entry) string {
	if len(entries) == 0 {
		return ui.Muted("journal is empty") + "\n"
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		session := e.Session
		if len(session) > 8 {
			session = session[:8]
		}
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			e.At.Format(time.RFC3339),
			session,
			e.Kind,
			e.Subject,
			e.Detail,
		})
	}
	return ui.Table([]string{"ID", "TIME", "SESSION", "KIND", "SUBJECT", "DETAIL"}, rows) + "\n"
}
