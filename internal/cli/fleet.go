package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jkrauska/nodepool/internal/catalog"
	"github.com/jkrauska/nodepool/internal/checker"
	"github.com/jkrauska/nodepool/internal/meshview"
)

func (a *app) listCmd() *cobra.Command {
	var managedOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalogued nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			nodes, err := store.Nodes()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSHORT\tLONG\tHW\tFIRMWARE\tMANAGED\tLAST SEEN")
			for _, n := range nodes {
				if managedOnly && !n.Managed {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%v\t%s\n",
					n.ID, n.ShortName, n.LongName, n.HWModel, n.FirmwareVersion,
					n.Managed, n.LastSeen.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&managedOnly, "managed", false, "only show managed nodes")
	return cmd
}

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <node-id>",
		Short: "Show one node's catalog entry, latest snapshot, and checks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Node(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Node:       %s (%s / %s)\n", n.ID, n.ShortName, n.LongName)
			fmt.Fprintf(out, "Hardware:   %s  firmware %s\n", n.HWModel, n.FirmwareVersion)
			fmt.Fprintf(out, "Managed:    %v\n", n.Managed)
			fmt.Fprintf(out, "First seen: %s\n", n.FirstSeen.Format(time.RFC3339))
			fmt.Fprintf(out, "Last seen:  %s\n", n.LastSeen.Format(time.RFC3339))

			snap, err := store.LatestSnapshot(n.ID)
			if err != nil {
				return err
			}
			if snap == nil {
				fmt.Fprintln(out, "Snapshot:   none")
			} else {
				fmt.Fprintf(out, "Snapshot:   %s, sections %v\n",
					snap.TakenAt.Format(time.RFC3339), snap.Config.Sections())
			}

			checks, err := store.CheckHistory(n.ID, 10)
			if err != nil {
				return err
			}
			if len(checks) > 0 {
				fmt.Fprintln(out, "Recent checks:")
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, c := range checks {
					fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n",
						c.Check, c.Status, c.Detail, c.CheckedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			}
			return nil
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <node-id>",
		Short: "Evaluate a node's latest snapshot against fleet policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := store.LatestSnapshot(args[0])
			if err != nil {
				return err
			}
			if snap == nil {
				return fmt.Errorf("no snapshot stored for %s, run sync or remote-config first", args[0])
			}

			findings := checker.Run(snap.Config, a.policy())
			results := make([]catalog.CheckResult, 0, len(findings))
			now := time.Now()
			for _, f := range findings {
				results = append(results, catalog.CheckResult{
					NodeID:    args[0],
					Check:     f.Check,
					Status:    string(f.Status),
					Detail:    f.Detail,
					CheckedAt: now,
				})
			}
			if err := store.SaveCheckResults(results); err != nil {
				return err
			}
			return printFindings(cmd, findings)
		},
	}
}

func (a *app) policy() checker.Policy {
	return checker.Policy{
		ExpectedHopLimit:      a.cfg.Policy.HopLimit,
		ExpectedRegion:        a.cfg.Policy.Region,
		RequireSerialDisabled: a.cfg.Policy.RequireSerialDisabled,
	}
}

func printFindings(cmd *cobra.Command, findings []checker.Finding) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	failures := 0
	for _, f := range findings {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Check, f.Status, f.Detail)
		if f.Status == checker.StatusFail {
			failures++
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	return nil
}

func (a *app) exportCmd() *cobra.Command {
	var format, outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the catalog as JSON or YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			nodes, err := store.Nodes()
			if err != nil {
				return err
			}

			type exportNode struct {
				ID              string    `json:"id" yaml:"id"`
				ShortName       string    `json:"short_name" yaml:"short_name"`
				LongName        string    `json:"long_name" yaml:"long_name"`
				HWModel         string    `json:"hw_model,omitempty" yaml:"hw_model,omitempty"`
				FirmwareVersion string    `json:"firmware_version,omitempty" yaml:"firmware_version,omitempty"`
				Managed         bool      `json:"managed" yaml:"managed"`
				FirstSeen       time.Time `json:"first_seen" yaml:"first_seen"`
				LastSeen        time.Time `json:"last_seen" yaml:"last_seen"`
			}
			doc := make([]exportNode, 0, len(nodes))
			for _, n := range nodes {
				doc = append(doc, exportNode{
					ID: n.ID, ShortName: n.ShortName, LongName: n.LongName,
					HWModel: n.HWModel, FirmwareVersion: n.FirmwareVersion,
					Managed: n.Managed, FirstSeen: n.FirstSeen, LastSeen: n.LastSeen,
				})
			}

			var data []byte
			switch format {
			case "json":
				data, err = json.MarshalIndent(doc, "", "  ")
			case "yaml":
				data, err = yaml.Marshal(doc)
			default:
				return fmt.Errorf("unknown export format %q, want json or yaml", format)
			}
			if err != nil {
				return err
			}

			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			return os.WriteFile(outPath, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "export format: json or yaml")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func (a *app) syncMeshviewCmd() *cobra.Command {
	var daysActive int
	cmd := &cobra.Command{
		Use:   "sync-meshview",
		Short: "Pull regional sightings from a meshview instance into the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Meshview.URL == "" {
				return fmt.Errorf("no meshview url configured")
			}
			if daysActive == 0 {
				daysActive = a.cfg.Meshview.DaysActive
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			count, err := meshview.New(a.cfg.Meshview.URL).Sync(cmd.Context(), store, daysActive)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d nodes from %s\n", count, a.cfg.Meshview.URL)
			return nil
		},
	}
	cmd.Flags().IntVar(&daysActive, "days-active", 0, "override the configured activity window")
	return cmd
}
