package cli

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ratlabs/vecstore/internal/config"
	"github.com/ratlabs/vecstore/internal/embedding"
	"github.com/ratlabs/vecstore/internal/search"
)

var (
	searchInputsFile string
	searchNamespace  string
	searchTopK       int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Embed texts, index them and rank them against a query",
	Long: "Reads one text per line from --inputs (or stdin), embeds them together with\n" +
		"the query, upserts them into the search index and prints the closest matches.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, searchInputsFile)
		if err != nil {
			return err
		}
		svc, cfg, err := newSearchService()
		if err != nil {
			return err
		}
		req := search.Request{
			Inputs:    splitLines(data),
			Query:     args[0],
			Namespace: firstNonEmpty(searchNamespace, cfg.Search.Namespace),
			TopK:      searchTopK,
		}
		results, err := svc.Search(cmdContext(cmd), req)
		if err != nil {
			return err
		}
		return printResult(cmd, results, func(w io.Writer) {
			for _, r := range results {
				fmt.Fprintln(w, r.String())
			}
		})
	},
}

var searchResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every record of a namespace in the search index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cfg, err := newSearchService()
		if err != nil {
			return err
		}
		ns := firstNonEmpty(searchNamespace, cfg.Search.Namespace)
		if err := svc.Reset(cmdContext(cmd), ns); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "namespace %q of %s cleared\n", ns, svc.IndexName())
		return nil
	},
}

func newSearchService() (*search.Service, *config.Config, error) {
	cfg, c, err := clientFromConfig()
	if err != nil {
		return nil, nil, err
	}
	emb, err := embedding.New(cfg.Embedding, cfg.Cache, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("embedding: %w", err)
	}
	return search.New(c, emb, cfg.Search, slog.Default()), cfg, nil
}

func splitLines(data []byte) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func init() {
	searchCmd.Flags().StringVarP(&searchInputsFile, "inputs", "i", "-", "File with one text per line ('-' for stdin)")
	searchCmd.PersistentFlags().StringVarP(&searchNamespace, "namespace", "n", "", "Namespace (default search.namespace)")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "Number of results (default search.topK)")
	searchCmd.AddCommand(searchResetCmd)
	rootCmd.AddCommand(searchCmd)
}
