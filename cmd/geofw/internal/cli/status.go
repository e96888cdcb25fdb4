package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ishanjain28/geofw/internal/stats"
)

func newStatusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "print the current verdict counters from a running geofw instance's --http endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:9090", "base address of a running geofw's --http stats endpoint")
	return cmd
}

func printStatus(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr + "/stats")
	if err != nil {
		return fmt.Errorf("contacting %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", addr, resp.Status)
	}

	var snap stats.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decoding response from %s: %w", addr, err)
	}

	stats.RenderTable(os.Stdout, snap)
	return nil
}
