// Package cli wires the nodepool commands: fleet inventory against the
// catalog, live device operations over a session, and remote
// administration across the mesh.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jkrauska/nodepool/internal/catalog"
	"github.com/jkrauska/nodepool/internal/config"
	"github.com/jkrauska/nodepool/internal/logging"
	"github.com/jkrauska/nodepool/internal/session"
)

type app struct {
	configPath string
	endpoint   string
	cfg        config.Config
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "nodepool",
		Short:         "Mesh radio fleet inventory and remote administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to nodepool.toml")
	root.PersistentFlags().StringVar(&a.endpoint, "endpoint", "", "device endpoint (serial path or tcp://host[:port])")

	root.AddCommand(
		a.discoverCmd(),
		a.listCmd(),
		a.infoCmd(),
		a.checkCmd(),
		a.statusCmd(),
		a.syncCmd(),
		a.heardCmd(),
		a.exportCmd(),
		a.syncMeshviewCmd(),
		a.sendCmd(),
		a.remoteConfigCmd(),
		a.verifyAdminCmd(),
	)
	return root
}

func (a *app) openStore() (*catalog.Store, error) {
	return catalog.Open(a.cfg.Database.Path)
}

func (a *app) sessionConfig() session.Config {
	return session.Config{
		SetupTimeout: a.cfg.Session.SetupTimeout(),
		DialTimeout:  a.cfg.Session.DialTimeout(),
	}
}

func (a *app) openSession(ctx context.Context) (*session.Session, error) {
	if a.endpoint == "" {
		return nil, fmt.Errorf("an --endpoint is required for this command")
	}
	return session.Open(ctx, a.endpoint, a.sessionConfig())
}
