package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var (
	destOwnerID   string
	destURL       string
	destProvider  string
	destSecret    string
	destRateLimit int
)

var destinationCmd = &cobra.Command{
	Use:     "destination",
	Aliases: []string{"dest"},
	Short:   "Manage forwarding destinations",
}

var createDestinationCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new destination",
	RunE: func(cmd *cobra.Command, args []string) error {
		if destOwnerID == "" || destURL == "" {
			return fmt.Errorf("--owner and --url are required")
		}
		var out map[string]any
		err := api(http.MethodPost, "/api/destinations", map[string]any{
			"owner_id":   destOwnerID,
			"url":        destURL,
			"provider":   destProvider,
			"secret":     destSecret,
			"rate_limit": destRateLimit,
		}, &out)
		if err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var getDestinationCmd = &cobra.Command{
	Use:   "get <destination-id>",
	Short: "Show one destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := api(http.MethodGet, "/api/destinations/"+args[0], nil, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var listDestinationsCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's destinations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if destOwnerID == "" {
			return fmt.Errorf("--owner is required")
		}
		var out map[string]any
		if err := api(http.MethodGet, "/api/destinations?owner_id="+destOwnerID, nil, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var deleteDestinationCmd = &cobra.Command{
	Use:   "delete <destination-id>",
	Short: "Delete a destination and its events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return api(http.MethodDelete, "/api/destinations/"+args[0], nil, nil)
	},
}

var pauseDestinationCmd = &cobra.Command{
	Use:   "pause <destination-id>",
	Short: "Buffer new events instead of delivering them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := api(http.MethodPost, "/api/destinations/"+args[0]+"/pause", nil, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var resumeDestinationCmd = &cobra.Command{
	Use:   "resume <destination-id>",
	Short: "Resume delivery and flush buffered events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := api(http.MethodPost, "/api/destinations/"+args[0]+"/resume", nil, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var recoverDestinationCmd = &cobra.Command{
	Use:   "recover <destination-id>",
	Short: "Re-enqueue every failed event of a destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := api(http.MethodPost, "/api/destinations/"+args[0]+"/recover", nil, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(destinationCmd)
	destinationCmd.AddCommand(createDestinationCmd, getDestinationCmd, listDestinationsCmd,
		deleteDestinationCmd, pauseDestinationCmd, resumeDestinationCmd, recoverDestinationCmd)

	createDestinationCmd.Flags().StringVar(&destOwnerID, "owner", "", "owner ID")
	createDestinationCmd.Flags().StringVar(&destURL, "url", "", "forwarding URL")
	createDestinationCmd.Flags().StringVar(&destProvider, "provider", "generic", "signing provider (generic, stripe)")
	createDestinationCmd.Flags().StringVar(&destSecret, "secret", "", "signing secret (generated when empty)")
	createDestinationCmd.Flags().IntVar(&destRateLimit, "rate-limit", 0, "max deliveries per window, 0 = unlimited")

	listDestinationsCmd.Flags().StringVar(&destOwnerID, "owner", "", "owner ID")
}
