package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/tablehub/internal/config"
	"github.com/marcus/tablehub/internal/store"
)

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the most recent sync events as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		events, err := st.RecentEvents(eventsLimit)
		if err != nil {
			return fmt.Errorf("fetch events: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "maximum number of events to print")
	rootCmd.AddCommand(eventsCmd)
}

// openStore opens the store named by DATABASE_URL (or its default).
func openStore() (store.Store, error) {
	cfg := config.Load()
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.DatabaseURL, err)
	}
	return st, nil
}
