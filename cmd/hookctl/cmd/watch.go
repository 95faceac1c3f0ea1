package cmd

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var (
	watchDestinationID string
	watchEventID       string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream delivery status updates",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if watchDestinationID != "" {
			q.Set("destination_id", watchDestinationID)
		}
		if watchEventID != "" {
			q.Set("event_id", watchEventID)
		}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
			serverURL+"/api/watch?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		if apiKey != "" {
			req.Header.Set("X-API-Key", apiKey)
		}

		// no timeout: the stream stays open until interrupted
		resp, err := (&http.Client{}).Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned %s", resp.Status)
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				fmt.Println(data)
			}
		}
		return scanner.Err()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchDestinationID, "destination", "", "filter by destination ID")
	watchCmd.Flags().StringVar(&watchEventID, "event", "", "filter by event ID")
}
