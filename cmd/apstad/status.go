package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"apsta"
	"apsta/cmd/apstad/ui"

	"github.com/spf13/cobra"
)

const statusTimeout = 5 * time.Second

func statusCmd() *cobra.Command {
	var (
		addr    string
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show station state and joined peers of a running daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ui.ConfigureColor(noColor)

			st, err := fetchStatus(cmd.Context(), addr)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderStatus(st))
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:80", "Daemon endpoint base URL")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colour output")
	return cmd
}

func fetchStatus(ctx context.Context, addr string) (apsta.DeviceStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	url := strings.TrimSuffix(addr, "/") + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apsta.DeviceStatus{}, fmt.Errorf("create status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return apsta.DeviceStatus{}, fmt.Errorf("get status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apsta.DeviceStatus{}, fmt.Errorf("get status: unexpected status %d", resp.StatusCode)
	}
	var st apsta.DeviceStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return apsta.DeviceStatus{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

func renderStatus(st apsta.DeviceStatus) string {
	address := ui.Muted("none")
	if st.Station.HasAddress() {
		address = st.Station.Address.String()
	}
	upstream := st.Station.Upstream
	if upstream == "" {
		upstream = ui.Muted("none")
	}

	var sb strings.Builder
	sb.WriteString(ui.KeyValues("",
		ui.KV("state", ui.State(st.Station.State)),
		ui.KV("retries", fmt.Sprintf("%d/%d", st.Station.Retries, st.Station.MaxRetries)),
		ui.KV("attempts", strconv.Itoa(st.Station.Attempts)),
		ui.KV("address", address),
		ui.KV("upstream", upstream),
		ui.KV("since", st.Station.Since.Format(time.RFC3339)),
		ui.KV("version", st.Version),
	))

	if len(st.Peers) == 0 {
		sb.WriteString(ui.Muted("no peers joined") + "\n")
		return sb.String()
	}
	rows := make([][]string, 0, len(st.Peers))
	for _, p := range st.Peers {
		rows = append(rows, []string{p.MAC, strconv.Itoa(int(p.AID))})
	}
	sb.WriteString(ui.Table([]string{"MAC", "AID"}, rows) + "\n")
	return sb.String()
}
