package cmd

import (
	"bytes"
	"fmt"
	"net/http"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	sendPayloadPath string
	sendRawPayload  string
)

var sendCmd = &cobra.Command{
	Use:   "send <destination-id>",
	Short: "Ingest a test event for a destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if sendPayloadPath == "" && sendRawPayload == "" {
			return fmt.Errorf("must provide either --payload or --raw")
		}
		if sendPayloadPath != "" && sendRawPayload != "" {
			return fmt.Errorf("cannot provide both --payload and --raw")
		}

		var data []byte
		var err error
		if sendPayloadPath != "" {
			data, err = os.ReadFile(sendPayloadPath)
			if err != nil {
				return fmt.Errorf("read payload file: %w", err)
			}
		} else {
			data = []byte(sendRawPayload)
		}
		if !json.Valid(data) {
			return fmt.Errorf("payload is not valid JSON")
		}

		resp, err := httpClient.Post(serverURL+"/ingest/"+args[0], "application/json", bytes.NewReader(data))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var out map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("server returned %s: %v", resp.Status, out["error"])
		}
		printJSON(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendPayloadPath, "payload", "", "Path to JSON payload file")
	sendCmd.Flags().StringVar(&sendRawPayload, "raw", "", "Raw JSON payload string")
}
