package seqd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/manifest-network/seqd/internal/client"
	"github.com/manifest-network/seqd/internal/server"
)

var (
	publishAddress string
	publishDomain  string
	publishData    string
	publishBundle  string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Submit a transaction or an atomic bundle to a running daemon",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := client.New(publishAddress)

		if publishBundle != "" {
			raw, err := os.ReadFile(publishBundle)
			if err != nil {
				return fmt.Errorf("failed to read bundle file: %w", err)
			}
			var req server.BundleRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("failed to parse bundle file: %w", err)
			}
			ids, err := c.PublishBundle(cmd.Context(), req.Txs)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		}

		if publishData == "" {
			return fmt.Errorf("either --data or --bundle is required")
		}
		id, err := c.PublishTransaction(cmd.Context(), publishDomain, []byte(publishData))
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishAddress, "address", "http://localhost:8547", "daemon base URL")
	publishCmd.Flags().StringVar(&publishDomain, "domain", "default", "execution domain of the transaction")
	publishCmd.Flags().StringVar(&publishData, "data", "", "transaction payload")
	publishCmd.Flags().StringVar(&publishBundle, "bundle", "", "path to a JSON bundle file ({\"txs\": [{\"domain\": ..., \"data\": ...}]})")
	rootCmd.AddCommand(publishCmd)
}
