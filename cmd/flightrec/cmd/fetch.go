package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/flightrec/pkg/client"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <out.jfr>",
	Short: "Download a recording from a running chunk server",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().String("server", "http://127.0.0.1:7070", "chunk server base URL")
	fetchCmd.Flags().String("api-key", "", "API key (overrides server.api_key)")
	fetchCmd.Flags().String("chunk", "", "download only this chunk id")
	fetchCmd.Flags().Bool("dump", false, "dump the chunk being recorded before downloading")
	fetchCmd.Flags().Duration("timeout", 30*time.Second, "per-request timeout")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	server, _ := cmd.Flags().GetString("server")
	key, _ := cmd.Flags().GetString("api-key")
	if key == "" {
		key = cfg.Server.APIKey
	}
	chunkID, _ := cmd.Flags().GetString("chunk")
	dump, _ := cmd.Flags().GetBool("dump")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	c := client.New(server, client.WithAPIKey(key), client.WithTimeout(timeout))
	ctx := cmd.Context()

	if dump {
		id, err := c.Dump(ctx)
		if err != nil {
			return fmt.Errorf("dump: %w", err)
		}
		if id != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "dumped chunk %s\n", id)
		}
	}

	var src func(io.Writer) (int64, error)
	if chunkID != "" {
		src = func(w io.Writer) (int64, error) {
			data, err := c.Chunk(ctx, chunkID)
			if err != nil {
				return 0, err
			}
			return io.Copy(w, bytes.NewReader(data))
		}
	} else {
		src = func(w io.Writer) (int64, error) { return c.Recording(ctx, w) }
	}

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	n, err := src(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(args[0])
		return fmt.Errorf("fetch: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", n, args[0])
	return nil
}
