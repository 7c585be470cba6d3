package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rudransh-shrivastava/swapbytes/internal/config"
	"github.com/rudransh-shrivastava/swapbytes/internal/db"
	"github.com/rudransh-shrivastava/swapbytes/internal/store"
	"github.com/spf13/cobra"
)

var (
	transfersDataDir string
	transfersLimit   int
	transfersPeer    string
)

var transfersCmd = &cobra.Command{
	Use:   "transfers",
	Short: "lists sent and received files",
	Long:  `lists the files this node has sent and received, newest first`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Overrides{DataDir: transfersDataDir})
		if err != nil {
			return err
		}

		gormDB, err := db.Open(cfg.DatabasePath())
		if err != nil {
			return err
		}
		defer func() { _ = db.Close(gormDB) }()
		ts := store.NewTransferStore(gormDB)

		var list []db.Transfer
		if transfersPeer != "" {
			list, err = ts.TransfersByPeer(cmd.Context(), transfersPeer)
		} else {
			list, err = ts.ListTransfers(cmd.Context(), transfersLimit)
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tDIRECTION\tRESOURCE\tPEER\tSIZE\tSHA256")
		for _, t := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				time.Unix(t.CreatedAt, 0).Format(time.DateTime), t.Direction, t.Resource, t.PeerID, t.Size, t.Checksum)
		}
		return w.Flush()
	},
}

func init() {
	transfersCmd.Flags().StringVar(&transfersDataDir, "data-dir", "", "directory holding the transfer ledger")
	transfersCmd.Flags().IntVar(&transfersLimit, "limit", 50, "maximum number of transfers to list, 0 for all")
	transfersCmd.Flags().StringVar(&transfersPeer, "peer", "", "only list transfers with this peer id")
}
