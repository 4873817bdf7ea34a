package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkrauska/nodepool/internal/catalog"
	"github.com/jkrauska/nodepool/internal/remoteadmin"
)

func (a *app) sendCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send <target> <message>",
		Short: "Send a text message and wait for a routing ack",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := remoteadmin.New(s).SendTextWithAck(args[0], args[1], timeout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Success {
				fmt.Fprintf(out, "delivered: packet %d acked by %s\n", res.PacketID, res.ResponderID)
				return nil
			}
			fmt.Fprintf(out, "not delivered: %s\n", res.Error)
			return fmt.Errorf("delivery not confirmed")
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the ack")
	return cmd
}

func (a *app) verifyAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-admin <target>",
		Short: "Transmit an admin-channel probe to a remote node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			ok, err := remoteadmin.New(s).VerifyAdminChannel(args[0])
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(),
					"admin probe transmitted to %s; run remote-config to confirm it was accepted\n", args[0])
			}
			return nil
		},
	}
}

func (a *app) remoteConfigCmd() *cobra.Command {
	var timeout time.Duration
	var retries int
	var save bool
	cmd := &cobra.Command{
		Use:   "remote-config <target>",
		Short: "Retrieve a remote node's configuration over the mesh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if timeout <= 0 {
				timeout = a.cfg.Admin.Timeout()
			}
			if !cmd.Flags().Changed("retries") {
				retries = a.cfg.Admin.Retries
			}

			res, err := remoteadmin.New(s).FetchConfig(args[0], timeout, retries)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.Metadata != nil {
				fmt.Fprintf(out, "Target:   %s\n", res.Target)
				fmt.Fprintf(out, "Hardware: %s  firmware %s\n", res.Metadata.HWModel, res.Metadata.FirmwareVersion)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SECTION\tOUTCOME\tATTEMPTS\tELAPSED")
			for _, rec := range res.Attempts {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
					rec.Section, rec.Outcome, rec.Attempts, rec.Elapsed.Round(time.Millisecond))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "captured sections: %v\n", res.Snapshot.Sections())

			if save {
				store, err := a.openStore()
				if err != nil {
					return err
				}
				defer store.Close()

				node := catalog.Node{ID: res.Target, LastSeen: time.Now().UTC()}
				if res.Metadata != nil {
					node.HWModel = res.Metadata.HWModel
					node.FirmwareVersion = res.Metadata.FirmwareVersion
				}
				if err := store.UpsertNode(node); err != nil {
					return err
				}
				if err := store.SaveSnapshot(res.Target, res.Snapshot); err != nil {
					return err
				}
				fmt.Fprintln(out, "snapshot saved to catalog")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-request timeout (default from config)")
	cmd.Flags().IntVar(&retries, "retries", 0, "transport retry budget (default from config)")
	cmd.Flags().BoolVar(&save, "save", false, "store the captured snapshot in the catalog")
	return cmd
}
