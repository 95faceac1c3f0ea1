package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	eventDestinationID string
	eventStatus        string
	eventLimit         int
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Inspect and replay events",
}

var getEventCmd = &cobra.Command{
	Use:   "get <event-id>",
	Short: "Show one event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := api(http.MethodGet, "/api/events/"+args[0], nil, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var listEventsCmd = &cobra.Command{
	Use:   "list",
	Short: "List a destination's events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventDestinationID == "" {
			return fmt.Errorf("--destination is required")
		}
		q := url.Values{}
		q.Set("destination_id", eventDestinationID)
		q.Set("limit", strconv.Itoa(eventLimit))
		if eventStatus != "" {
			q.Set("status", eventStatus)
		}
		var out map[string]any
		if err := api(http.MethodGet, "/api/events?"+q.Encode(), nil, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var attemptsCmd = &cobra.Command{
	Use:   "attempts <event-id>",
	Short: "List an event's delivery attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := api(http.MethodGet, "/api/events/"+args[0]+"/attempts", nil, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var replayEventCmd = &cobra.Command{
	Use:   "replay <event-id>",
	Short: "Put a failed event back on the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := api(http.MethodPost, "/api/events/"+args[0]+"/replay", nil, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(getEventCmd, listEventsCmd, attemptsCmd, replayEventCmd)

	listEventsCmd.Flags().StringVar(&eventDestinationID, "destination", "", "destination ID")
	listEventsCmd.Flags().StringVar(&eventStatus, "status", "", "filter by status (PENDING, PROCESSING, COMPLETED, FAILED, PAUSED)")
	listEventsCmd.Flags().IntVar(&eventLimit, "limit", 100, "max events to return")
}
