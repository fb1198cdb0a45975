package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/ttscache/internal/cache"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	exportLevel int

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and move the audio cache",
	}

	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show entry count and size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			st, err := store.Stats()
			if err != nil {
				return fmt.Errorf("unable to read cache: %w", err)
			}
			state := "enabled"
			if !st.Enabled {
				state = "disabled"
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s\n", keyword(st.Root), faint(state))
			fmt.Fprintf(w, "  %s %s\n", faint("entries"), humanize.Comma(st.Entries))
			fmt.Fprintf(w, "  %s %s\n", faint("size   "), humanize.Bytes(uint64(st.Bytes))) //nolint:gosec
			return nil
		},
	}

	cachePathCmd = &cobra.Command{
		Use:   "path",
		Short: "Print the audio directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), store.Root())
			return err
		},
	}

	cacheExportCmd = &cobra.Command{
		Use:     "export FILE|-",
		Short:   "Write every entry to a zstd-compressed tar archive",
		Example: paragraph("ttscache cache export audio.tar.zst\nttscache cache export - | ssh host ttscache cache import -"),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cfg)
			if err != nil {
				return err
			}

			n, err := exportArchive(store, args[0], cmd.OutOrStdout(), exportLevel)
			if err != nil {
				return err
			}
			log.Info("Exported cache", "entries", n, "to", args[0])
			if args[0] != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s entries to %s\n", humanize.Comma(int64(n)), args[0])
			}
			return nil
		},
	}

	cacheImportCmd = &cobra.Command{
		Use:   "import FILE|-",
		Short: "Add the entries of an exported archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cfg)
			if err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("unable to open archive: %w", err)
				}
				defer func() { _ = f.Close() }()
				r = f
			}

			n, err := store.Import(r)
			if err != nil {
				return err
			}
			log.Info("Imported cache", "entries", n, "from", args[0])
			fmt.Fprintf(cmd.ErrOrStderr(), "Imported %s entries\n", humanize.Comma(int64(n)))
			return nil
		},
	}
)

func init() {
	cacheExportCmd.Flags().IntVar(&exportLevel, "level", 3, "zstd compression level (1-22)")
	cacheCmd.AddCommand(cacheStatsCmd, cachePathCmd, cacheExportCmd, cacheImportCmd)
}

// exportArchive writes the store to dst, where "-" is stdout. The archive
// only counts as written once the file is closed.
func exportArchive(store *cache.Store, dst string, stdout io.Writer, level int) (n int, err error) {
	if dst == "-" {
		return store.Export(stdout, level)
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("unable to create archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("unable to write archive: %w", cerr)
		}
	}()
	return store.Export(f, level)
}
