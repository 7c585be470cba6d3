package cmd

import (
	"fmt"

	"github.com/rudransh-shrivastava/swapbytes/internal/protocol"
	"github.com/spf13/cobra"
)

// set with -ldflags "-X github.com/rudransh-shrivastava/swapbytes/internal/cmd.version=..."
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "prints the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "swapbytes %s (file exchange %s, directory %s)\n",
			version, protocol.FileExchangeProtocol, protocol.DHTProtocolPrefix)
	},
}
