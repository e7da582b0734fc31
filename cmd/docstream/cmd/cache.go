package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docstream/internal/cache"
	"github.com/MeKo-Tech/docstream/internal/document"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the document cache",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <hash|file.pdf>",
	Short: "Print a cached document",
	Long: `Print the cached result for a document as JSON. The argument is either a
content hash or a PDF file, whose hash is computed.

Examples:
  docstream cache show paper.pdf
  docstream cache show 3f7a0c1e...`,
	Args: cobra.ExactArgs(1),
	RunE: runCacheShow,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	cacheShowCmd.Flags().Bool("summary", false, "print only hash, page count and image URLs")
}

// resolveHash accepts a hash or the path of a document.
func resolveHash(arg string) (string, error) {
	if st, err := os.Stat(arg); err == nil && !st.IsDir() {
		data, err := os.ReadFile(arg)
		if err != nil {
			return "", err
		}
		return document.HashBytes(data), nil
	}
	return arg, nil
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	hash, err := resolveHash(args[0])
	if err != nil {
		return err
	}

	cfg := GetConfig()
	store, err := cache.Open(cmd.Context(), cfg.Cache)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	m := cache.NewManager(store, slog.Default())
	defer func() { _ = m.Close() }()

	entry, ok := m.Lookup(cmd.Context(), hash)
	if !ok {
		return errors.New("document not cached: " + hash)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if summary, _ := cmd.Flags().GetBool("summary"); summary {
		return enc.Encode(struct {
			Hash      string   `json:"hash"`
			Pages     int      `json:"pages"`
			ImageURLs []string `json:"image_urls"`
		}{entry.Hash, len(entry.Pages), entry.ImageURLs})
	}
	return enc.Encode(entry)
}
