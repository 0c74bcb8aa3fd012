package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Poll providers for payments stuck in pending or processing",
		Long: `Runs the reconciliation sweep outside the server.

With --once a single sweep runs and its summary is printed; otherwise the
sweep repeats every RECONCILE_INTERVAL until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			if !once {
				a.scheduler.Run(cmd.Context())
				return nil
			}
			sum, err := a.scheduler.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d completed=%d failed=%d expired=%d unchanged=%d errors=%d duration=%s\n",
				sum.Checked, sum.Completed, sum.Failed, sum.Expired, sum.Unchanged, sum.Errors, sum.Duration)
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return cmd
}
