package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/flightrec/internal/repository"
)

var chunksCmd = &cobra.Command{
	Use:   "chunks",
	Short: "Manage the chunk repository",
}

var chunksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored chunks",
	Args:  cobra.NoArgs,
	RunE:  runChunksList,
}

var chunksExportCmd = &cobra.Command{
	Use:   "export <out.jfr>",
	Short: "Write every stored chunk into one recording file",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunksExport,
}

var chunksPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop all but the newest chunks",
	Args:  cobra.NoArgs,
	RunE:  runChunksPrune,
}

func init() {
	rootCmd.AddCommand(chunksCmd)
	chunksCmd.PersistentFlags().String("data-dir", "", "repository directory (overrides recording.data_dir)")
	chunksCmd.AddCommand(chunksListCmd, chunksExportCmd, chunksPruneCmd)
	chunksPruneCmd.Flags().Int("keep", 10, "number of newest chunks to keep")
}

func openRepository(cmd *cobra.Command, maxChunks int) (*repository.Repository, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	rc, err := repositoryConfig(cfg)
	if err != nil {
		return nil, err
	}
	rc.MaxChunks = maxChunks
	repo, err := repository.Open(cfg.Recording.DataDir, rc)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}

func runChunksList(cmd *cobra.Command, _ []string) error {
	repo, err := openRepository(cmd, 0)
	if err != nil {
		return err
	}
	defer repo.Close()

	recs, err := repo.List()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTART\tDURATION\tEVENTS\tBYTES")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
			r.ID,
			time.Unix(0, r.StartNanos).UTC().Format(time.RFC3339),
			time.Duration(r.DurationNanos),
			r.Events, r.Size)
	}
	return tw.Flush()
}

func runChunksExport(cmd *cobra.Command, args []string) error {
	repo, err := openRepository(cmd, 0)
	if err != nil {
		return err
	}
	defer repo.Close()

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	n, err := repo.Export(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", n, args[0])
	return nil
}

func runChunksPrune(cmd *cobra.Command, _ []string) error {
	keep, _ := cmd.Flags().GetInt("keep")
	if keep < 1 {
		return fmt.Errorf("--keep must be at least 1")
	}
	repo, err := openRepository(cmd, keep)
	if err != nil {
		return err
	}
	defer repo.Close()

	dropped, err := repo.Retention().RunOnce(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "dropped %d chunks\n", dropped)
	return nil
}
