package cmd

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rudransh-shrivastava/swapbytes/internal/config"
	"github.com/rudransh-shrivastava/swapbytes/internal/network"
	"github.com/spf13/cobra"
)

var idDataDir string

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "prints this node's peer id",
	Long:  `prints the peer id of the stored identity, creating the identity if there is none yet`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Overrides{DataDir: idDataDir})
		if err != nil {
			return err
		}
		priv, err := network.LoadOrCreateIdentity(cfg.IdentityPath())
		if err != nil {
			return err
		}
		id, err := peer.IDFromPrivateKey(priv)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

func init() {
	idCmd.Flags().StringVar(&idDataDir, "data-dir", "", "directory holding the identity")
}
