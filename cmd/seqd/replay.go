package seqd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/manifest-network/seqd/internal/client"
)

var (
	replayAddress string
	replayFrom    uint64
	replayFollow  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Stream sequenced blocks from a running daemon",
	Long: `Replay fetches every block from --from up to the current tip and prints
them as JSON lines. With --follow it then long-polls for new blocks until
interrupted or the daemon shuts down.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := client.New(replayAddress)
		enc := json.NewEncoder(os.Stdout)

		tip, err := c.Tip(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch tip: %w", err)
		}

		height := replayFrom
		if height <= tip.Height {
			bar := progressbar.NewOptions64(
				int64(tip.Height-height+1),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionSetDescription("Replaying blocks..."),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
			)
			for ; height <= tip.Height; height++ {
				block, err := c.GetBlock(cmd.Context(), height)
				if err != nil {
					return fmt.Errorf("failed to fetch block %d: %w", height, err)
				}
				if err := enc.Encode(block); err != nil {
					return err
				}
				_ = bar.Add(1)
			}
			_ = bar.Finish()
		}

		if !replayFollow {
			return nil
		}
		for {
			block, err := c.NextBlock(cmd.Context(), height)
			if errors.Is(err, client.ErrShutdown) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := enc.Encode(block); err != nil {
				return err
			}
			height = block.Height + 1
		}
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayAddress, "address", "http://localhost:8547", "daemon base URL")
	replayCmd.Flags().Uint64Var(&replayFrom, "from", 0, "first block height to replay")
	replayCmd.Flags().BoolVar(&replayFollow, "follow", false, "keep streaming new blocks after catching up")
	rootCmd.AddCommand(replayCmd)
}
