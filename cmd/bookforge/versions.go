package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bookforge/internal/version"
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Inspect the chapter version store",
}

var versionsListCmd = &cobra.Command{
	Use:   "list [chapter-id]",
	Short: "List recorded versions, for one chapter or all",
	Args:  cobra.MaximumNArgs(1),
	RunE:  versionsList,
}

var versionsShowCmd = &cobra.Command{
	Use:   "show [chapter-id] [version-id]",
	Short: "Print the stored content of one version",
	Args:  cobra.ExactArgs(2),
	RunE:  versionsShow,
}

var versionsDiffCmd = &cobra.Command{
	Use:   "diff [chapter-id] [from] [to]",
	Short: "Print the unified diff between two versions",
	Args:  cobra.ExactArgs(3),
	RunE:  versionsDiff,
}

var versionsTagCmd = &cobra.Command{
	Use:   "tag [chapter-id] [version-id] [tag]",
	Short: "Tag a version (idempotent)",
	Args:  cobra.ExactArgs(3),
	RunE:  versionsTag,
}

var versionsHistoryCmd = &cobra.Command{
	Use:   "history [chapter-id]",
	Short: "Print the markdown history report for a chapter",
	Args:  cobra.ExactArgs(1),
	RunE:  versionsHistory,
}

var exportDir string

var versionsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write history reports for every chapter",
	RunE:  versionsExport,
}

func init() {
	versionsExportCmd.Flags().StringVar(&exportDir, "dir", "", "Output directory (default <ops>/reports/history)")

	versionsCmd.AddCommand(versionsListCmd)
	versionsCmd.AddCommand(versionsShowCmd)
	versionsCmd.AddCommand(versionsDiffCmd)
	versionsCmd.AddCommand(versionsTagCmd)
	versionsCmd.AddCommand(versionsHistoryCmd)
	versionsCmd.AddCommand(versionsExportCmd)
}

func openStore() (*version.Store, error) {
	return version.NewStore(cfg.OpsDir)
}

func versionsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	printChapter := func(chapterID string, versions []version.Metadata) {
		fmt.Printf("chapter_%s (%d versions)\n", chapterID, len(versions))
		for _, m := range versions {
			tags := ""
			if len(m.Tags) > 0 {
				tags = "  [" + strings.Join(m.Tags, ", ") + "]"
			}
			fmt.Printf("  %s  %s  %s  %d words%s\n", m.VersionID, m.Timestamp, m.Author, m.WordCount, tags)
		}
	}

	if len(args) == 1 {
		versions := store.Versions(args[0])
		if len(versions) == 0 {
			return fmt.Errorf("no versions recorded for chapter %s", args[0])
		}
		printChapter(args[0], versions)
		return nil
	}

	all := store.AllVersions()
	if len(all) == 0 {
		fmt.Println("Version store is empty.")
		return nil
	}
	chapterIDs := make([]string, 0, len(all))
	for id := range all {
		chapterIDs = append(chapterIDs, id)
	}
	sort.Strings(chapterIDs)
	for _, id := range chapterIDs {
		printChapter(id, all[id])
	}
	return nil
}

func versionsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	content, ok := store.GetVersion(args[0], args[1])
	if !ok {
		return fmt.Errorf("version %s not found for chapter %s", args[1], args[0])
	}
	fmt.Print(content)
	return nil
}

func versionsDiff(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	text, ok := store.GetDiff(args[0], args[1], args[2])
	if !ok {
		return fmt.Errorf("cannot diff chapter %s %s..%s: version missing", args[0], args[1], args[2])
	}
	if text == "" {
		fmt.Println("No differences.")
		return nil
	}
	fmt.Print(text)
	return nil
}

func versionsTag(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.TagVersion(args[0], args[1], args[2]); err != nil {
		return err
	}
	logger.Info("Version tagged",
		zap.String("chapter", args[0]),
		zap.String("version", args[1]),
		zap.String("tag", args[2]))
	return nil
}

func versionsHistory(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	fmt.Print(store.HistoryReport(args[0]))
	return nil
}

// versionsExport writes one history report per chapter, concurrently.
func versionsExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	dir := exportDir
	if dir == "" {
		dir = filepath.Join(cfg.OpsDir, "reports", "history")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	all := store.AllVersions()
	if len(all) == 0 {
		fmt.Println("Version store is empty.")
		return nil
	}

	var g errgroup.Group
	g.SetLimit(cfg.Pipeline.MaxParallelTasks)
	for chapterID := range all {
		g.Go(func() error {
			path := filepath.Join(dir, fmt.Sprintf("chapter_%s.md", chapterID))
			if err := os.WriteFile(path, []byte(store.HistoryReport(chapterID)), 0o644); err != nil {
				return fmt.Errorf("failed to export chapter %s history: %w", chapterID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("History reports exported", zap.Int("chapters", len(all)), zap.String("dir", dir))
	return nil
}
