package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

func (a *app) statusCmd() *cobra.Command {
	var health bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon version and supported currencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ov, err := a.client.Overview(cmd.Context(), health)
			if err != nil {
				return err
			}
			if err := a.print(ov); err != nil {
				return err
			}
			if health && !ov.Healthy() {
				return errors.New("daemon is not healthy")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&health, "health", false, "Include RPC connectivity and fail when unhealthy")
	return cmd
}
