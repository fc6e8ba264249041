package main

import (
	"github.com/spf13/cobra"

	"github.com/BoweryJG/clearverify-patient/internal/model"
)

var portalsCmd = &cobra.Command{
	Use:   "portals",
	Short: "Inspect learned insurer portals",
}

var portalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List insurers with learned portals",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "portals", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		insurers, err := env.Service.SupportedInsurers(ctx)
		if err != nil {
			return err
		}
		if insurers == nil {
			insurers = []model.SupportedInsurer{}
		}
		return printJSON(cmd.OutOrStdout(), insurers)
	},
}

var portalsStatusCmd = &cobra.Command{
	Use:   "status <insurer>",
	Short: "Show the learning state of one insurer's portal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "portals", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		status, err := env.Service.PortalStatus(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), status)
	},
}

var portalsEventsCmd = &cobra.Command{
	Use:   "events [insurer]",
	Short: "List recorded learning failures, optionally for one insurer",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "portals", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		var key string
		if len(args) == 1 {
			key = model.InsurerKey(args[0])
		}
		events, err := env.Store.ListLearningEvents(ctx, key)
		if err != nil {
			return err
		}
		if events == nil {
			events = []model.LearningEvent{}
		}
		return printJSON(cmd.OutOrStdout(), events)
	},
}

func init() {
	portalsCmd.AddCommand(portalsListCmd, portalsStatusCmd, portalsEventsCmd)
	rootCmd.AddCommand(portalsCmd)
}
