package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"camrecorder/internal/config"
	"camrecorder/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the configured channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Notifications.Provider == config.ProviderNone {
				fmt.Fprintln(cmd.OutOrStdout(), "Notifications are disabled (notifications.provider = \"none\")")
				return nil
			}
			notifier := notifications.NewService(cfg)
			if err := notifier.Publish(cmd.Context(), notifications.EventTest, nil); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test notification sent via %s\n", cfg.Notifications.Provider)
			return nil
		},
	}
}
