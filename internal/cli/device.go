package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkrauska/nodepool/internal/catalog"
	"github.com/jkrauska/nodepool/internal/discovery"
	"github.com/jkrauska/nodepool/internal/importer"
)

func (a *app) discoverCmd() *cobra.Command {
	var mdnsTimeout time.Duration
	var skipMDNS bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find radios on serial ports and the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates := discovery.SerialCandidates()
			if !skipMDNS {
				netCands, err := discovery.MDNSCandidates(cmd.Context(), mdnsTimeout)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "mdns browse failed: %v\n", err)
				} else {
					candidates = append(candidates, netCands...)
				}
			}
			if len(candidates) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no candidate endpoints found")
				return nil
			}

			found := discovery.Probe(cmd.Context(), candidates, a.sessionConfig())
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENDPOINT\tSOURCE\tNODE\tSHORT\tFIRMWARE")
			for _, f := range found {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					f.Endpoint, f.Source, f.Identity.ID, f.Identity.ShortName, f.Identity.FirmwareVersion)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d candidates answered\n", len(found), len(candidates))
			return nil
		},
	}
	cmd.Flags().DurationVar(&mdnsTimeout, "mdns-timeout", 3*time.Second, "how long to browse for network radios")
	cmd.Flags().BoolVar(&skipMDNS, "no-mdns", false, "skip the network browse")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the identity and cache of the device at --endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			ident, err := s.LocalIdentity()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Node:     %s (%s / %s)\n", ident.ID, ident.ShortName, ident.LongName)
			fmt.Fprintf(out, "Hardware: %s  firmware %s\n", ident.HWModel, ident.FirmwareVersion)
			fmt.Fprintf(out, "Endpoint: %s\n", s.Endpoint())
			fmt.Fprintf(out, "Heard:    %d nodes\n", len(s.Nodes())-1)
			if _, err := s.Passkey(); err != nil {
				fmt.Fprintln(out, "Passkey:  not available, remote administration disabled")
			} else {
				fmt.Fprintln(out, "Passkey:  available")
			}
			return nil
		},
	}
}

func (a *app) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Snapshot the local device's config into the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			ident, err := s.LocalIdentity()
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			err = store.UpsertNode(catalog.Node{
				ID:              ident.ID,
				ShortName:       ident.ShortName,
				LongName:        ident.LongName,
				HWModel:         ident.HWModel,
				FirmwareVersion: ident.FirmwareVersion,
				Endpoint:        s.Endpoint(),
				LastSeen:        time.Now().UTC(),
			})
			if err != nil {
				return err
			}

			snap := s.LocalConfig()
			if err := store.SaveSnapshot(ident.ID, snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %s, snapshot sections %v\n", ident.ID, snap.Sections())
			return nil
		},
	}
}

func (a *app) heardCmd() *cobra.Command {
	var importFromDevice bool
	cmd := &cobra.Command{
		Use:   "heard [node-id]",
		Short: "Import or list who-heard-whom history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if importFromDevice {
				s, err := a.openSession(cmd.Context())
				if err != nil {
					return err
				}
				defer s.Close()

				ident, err := s.LocalIdentity()
				if err != nil {
					return err
				}
				res, err := importer.New(store).ImportHeard(s, ident.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d heard nodes seen by %s\n", res.Imported, ident.ID)
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("pass a node id to list, or --import with an --endpoint")
			}
			heard, err := store.HeardBy(args[0], time.Now().Add(-30*24*time.Hour))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NODE\tHEARD AT\tSNR\tHOPS")
			for _, h := range heard {
				snr, hops := "-", "-"
				if h.SNR != nil {
					snr = fmt.Sprintf("%.2f", *h.SNR)
				}
				if h.HopsAway != nil {
					hops = fmt.Sprintf("%d", *h.HopsAway)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.NodeID, h.HeardAt.Format(time.RFC3339), snr, hops)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&importFromDevice, "import", false, "import the device's node cache instead of listing")
	return cmd
}
