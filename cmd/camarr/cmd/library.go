package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/camarr/internal/models"
	"github.com/jmylchreest/camarr/pkg/format"
)

var (
	downloadAll  bool
	downloadKind string
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Manage the local media index",
	Long: `Manage the local index of device media. The index mirrors the
device's picture and recording listings into the journal database and
tracks which files have a local copy.`,
}

var libraryPicturesCmd = &cobra.Command{
	Use:   "pictures",
	Short: "List indexed pictures",
	RunE:  func(cmd *cobra.Command, _ []string) error { return runLibraryList(cmd, models.MediaPicture) },
}

var libraryRecordingsCmd = &cobra.Command{
	Use:   "recordings",
	Short: "List indexed recordings",
	RunE:  func(cmd *cobra.Command, _ []string) error { return runLibraryList(cmd, models.MediaRecording) },
}

var librarySyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror the device media listings into the index",
	RunE:  runLibrarySync,
}

var libraryDownloadCmd = &cobra.Command{
	Use:   "download [filename]",
	Short: "Download indexed media files",
	Long: `Download one indexed file by name, or every pending file with --all.
Files that already have an intact local copy are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLibraryDownload,
}

var libraryExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the media index as a compressed manifest",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLibraryExport,
}

var libraryImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Merge a manifest into the media index",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLibraryImport,
}

func init() {
	libraryDownloadCmd.Flags().BoolVar(&downloadAll, "all", false, "download every pending file")
	libraryDownloadCmd.Flags().StringVar(&downloadKind, "kind", "", "restrict --all to one kind (picture or recording)")

	libraryCmd.AddCommand(libraryPicturesCmd)
	libraryCmd.AddCommand(libraryRecordingsCmd)
	libraryCmd.AddCommand(librarySyncCmd)
	libraryCmd.AddCommand(libraryDownloadCmd)
	libraryCmd.AddCommand(libraryExportCmd)
	libraryCmd.AddCommand(libraryImportCmd)
	rootCmd.AddCommand(libraryCmd)
}

func runLibraryList(cmd *cobra.Command, kind models.MediaKind) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	lib, err := a.library()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if _, err := lib.Sync(ctx); err != nil {
		return fmt.Errorf("syncing media index: %w", err)
	}
	records, err := lib.List(ctx, kind)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("no %ss indexed\n", kind)
		return nil
	}

	fmt.Printf("%-36s %-10s %-10s %-16s %s\n", "FILENAME", "SIZE", "DURATION", "CAPTURED", "LOCAL")
	for _, rec := range records {
		duration := "-"
		if rec.DurationMs > 0 {
			duration = format.Seconds(float64(rec.DurationMs) / 1000)
		}
		local := "-"
		if rec.Downloaded() {
			local = rec.LocalPath
		}
		fmt.Printf("%-36s %-10s %-10s %-16s %s\n",
			rec.Filename,
			format.Bytes(rec.SizeBytes),
			duration,
			format.RelativeTimeShort(rec.CapturedAt),
			local)
	}
	return nil
}

func runLibrarySync(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	lib, err := a.library()
	if err != nil {
		return err
	}

	result, err := lib.Sync(cmd.Context())
	if err != nil {
		return fmt.Errorf("syncing media index: %w", err)
	}

	fmt.Printf("indexed %s pictures, %s recordings\n",
		format.Number(int64(result.Pictures)), format.Number(int64(result.Recordings)))
	return nil
}

func runLibraryDownload(cmd *cobra.Command, args []string) error {
	if downloadAll && len(args) > 0 {
		return fmt.Errorf("specify a filename or --all, not both")
	}
	if !downloadAll && len(args) == 0 {
		return fmt.Errorf("specify a filename to download, or --all for every pending file")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	lib, err := a.library()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if !downloadAll {
		path, err := lib.Download(ctx, args[0])
		if err != nil {
			return fmt.Errorf("downloading %s: %w", args[0], err)
		}
		fmt.Printf("downloaded %s\n", path)
		return nil
	}

	kind := models.MediaKind(downloadKind)
	switch kind {
	case "", models.MediaPicture, models.MediaRecording:
	default:
		return fmt.Errorf("unknown media kind %q", downloadKind)
	}
	count, err := lib.DownloadAll(ctx, kind)
	if err != nil {
		return fmt.Errorf("downloading pending media: %w", err)
	}
	fmt.Printf("downloaded %s files\n", format.Number(int64(count)))
	return nil
}

func runLibraryExport(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	lib, err := a.library()
	if err != nil {
		return err
	}

	out := os.Stdout
	if len(args) == 1 {
		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		defer f.Close()
		out = f
	}

	count, err := lib.Export(cmd.Context(), out)
	if err != nil {
		return fmt.Errorf("exporting media index: %w", err)
	}
	if len(args) == 1 {
		fmt.Printf("exported %s entries to %s\n", format.Number(int64(count)), args[0])
	}
	return nil
}

func runLibraryImport(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	lib, err := a.library()
	if err != nil {
		return err
	}

	in := os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening import file: %w", err)
		}
		defer f.Close()
		in = f
	}

	result, err := lib.Import(cmd.Context(), in)
	if err != nil {
		return fmt.Errorf("importing media index: %w", err)
	}
	fmt.Printf("imported %s entries (%s already indexed)\n",
		format.Number(int64(result.Imported)), format.Number(int64(result.Skipped)))
	return nil
}
