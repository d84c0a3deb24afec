package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ratlabs/vecstore/internal/vectorstore"
)

var (
	vecIndex     string
	vecNamespace string
	vecFile      string
	vecVector    string
	vecID        string
	vecTopK      int
	vecFilter    string
	vecValues    bool
	vecMetadata  bool
	vecAll       bool
	vecSetMeta   string
)

var vectorsCmd = &cobra.Command{
	Use:     "vectors",
	Aliases: []string{"vec"},
	Short:   "Read and write records of an index",
}

var vectorsUpsertCmd = &cobra.Command{
	Use:   "upsert",
	Short: "Upsert records from a JSON array or JSON lines (file or stdin)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, vecFile)
		if err != nil {
			return err
		}
		records, err := decodeRecords(data)
		if err != nil {
			return err
		}
		idx, err := openIndex(cmd)
		if err != nil {
			return err
		}
		n, err := idx.Upsert(cmdContext(cmd), records, vecNamespace)
		if err != nil {
			return fmt.Errorf("upserted %d of %d: %w", n, len(records), err)
		}
		return printResult(cmd, map[string]int{"upsertedCount": n}, func(w io.Writer) {
			fmt.Fprintf(w, "upserted %d record(s)\n", n)
		})
	},
}

var vectorsFetchCmd = &cobra.Command{
	Use:   "fetch <id>...",
	Short: "Fetch records by ID",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex(cmd)
		if err != nil {
			return err
		}
		res, err := idx.Fetch(cmdContext(cmd), args, vecNamespace)
		if err != nil {
			return err
		}
		return printResult(cmd, res, func(w io.Writer) {
			ids := make([]string, 0, len(res.Vectors))
			for id := range res.Vectors {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				r := res.Vectors[id]
				fmt.Fprintf(w, "%s\t%s\t%s\n", id, formatVector(r.Values), formatMetadata(r.Metadata))
			}
		})
	},
}

var vectorsQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query nearest neighbours by vector or by stored record ID",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := vectorstore.QueryRequest{
			ID:              vecID,
			TopK:            vecTopK,
			Namespace:       vecNamespace,
			IncludeValues:   vecValues,
			IncludeMetadata: vecMetadata,
		}
		if vecVector != "" {
			v, err := parseVector(vecVector)
			if err != nil {
				return err
			}
			req.Vector = v
		}
		f, err := parseFilterFlag(vecFilter)
		if err != nil {
			return err
		}
		req.Filter = f
		idx, err := openIndex(cmd)
		if err != nil {
			return err
		}
		res, err := idx.Query(cmdContext(cmd), req)
		if err != nil {
			return err
		}
		return printResult(cmd, res, func(w io.Writer) {
			for _, m := range res.Matches {
				fmt.Fprintf(w, "%.4f\t%s", m.Score, m.ID)
				if len(m.Values) > 0 {
					fmt.Fprintf(w, "\t%s", formatVector(m.Values))
				}
				if len(m.Metadata) > 0 {
					fmt.Fprintf(w, "\t%s", formatMetadata(m.Metadata))
				}
				fmt.Fprintln(w)
			}
		})
	},
}

var vectorsDeleteCmd = &cobra.Command{
	Use:   "delete [id]...",
	Short: "Delete records by ID, by --filter, or --all in the namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := parseFilterFlag(vecFilter)
		if err != nil {
			return err
		}
		req := vectorstore.DeleteRequest{IDs: args, DeleteAll: vecAll, Namespace: vecNamespace, Filter: f}
		idx, err := openIndex(cmd)
		if err != nil {
			return err
		}
		if err := idx.Delete(cmdContext(cmd), req); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "deleted")
		return nil
	},
}

var vectorsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Replace values and/or merge metadata of one record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := vectorstore.UpdateRequest{ID: args[0], Namespace: vecNamespace}
		if vecVector != "" {
			v, err := parseVector(vecVector)
			if err != nil {
				return err
			}
			req.Values = v
		}
		if vecSetMeta != "" {
			var md vectorstore.Metadata
			if err := json.Unmarshal([]byte(vecSetMeta), &md); err != nil {
				return fmt.Errorf("--set-metadata: %w", err)
			}
			req.SetMetadata = md
		}
		idx, err := openIndex(cmd)
		if err != nil {
			return err
		}
		if err := idx.Update(cmdContext(cmd), req); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[0])
		return nil
	},
}

var vectorsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Describe index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := parseFilterFlag(vecFilter)
		if err != nil {
			return err
		}
		idx, err := openIndex(cmd)
		if err != nil {
			return err
		}
		st, err := idx.DescribeIndexStats(cmdContext(cmd), f)
		if err != nil {
			return err
		}
		return printResult(cmd, st, func(w io.Writer) {
			fmt.Fprintf(w, "Dimension: %d\n", st.Dimension)
			fmt.Fprintf(w, "Fullness:  %.4f\n", st.IndexFullness)
			fmt.Fprintf(w, "Total:     %d\n", st.TotalVectorCount)
			names := make([]string, 0, len(st.Namespaces))
			for ns := range st.Namespaces {
				names = append(names, ns)
			}
			sort.Strings(names)
			for _, ns := range names {
				label := ns
				if label == "" {
					label = `""`
				}
				fmt.Fprintf(w, "  %s: %d\n", label, st.Namespaces[ns].VectorCount)
			}
		})
	},
}

// openIndex resolves --index, falling back to search.index from config.
func openIndex(cmd *cobra.Command) (*vectorstore.Index, error) {
	cfg, c, err := clientFromConfig()
	if err != nil {
		return nil, err
	}
	name := vecIndex
	if name == "" {
		name = cfg.Search.Index
	}
	return c.Index(cmdContext(cmd), name)
}

func decodeRecords(data []byte) ([]vectorstore.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("no records in input")
	}
	if trimmed[0] == '[' {
		var out []vectorstore.Record
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return out, nil
	}
	var out []vectorstore.Record
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	for {
		var r vectorstore.Record
		err := dec.Decode(&r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(out)+1, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func parseVector(s string) ([]float32, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q", p)
		}
		out = append(out, float32(f))
	}
	if len(out) == 0 {
		return nil, errors.New("vector is empty")
	}
	return out, nil
}

func parseFilterFlag(s string) (vectorstore.Filter, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return vectorstore.ParseFilter([]byte(s))
}

func formatVector(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'g', 4, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func formatMetadata(md vectorstore.Metadata) string {
	if len(md) == 0 {
		return "{}"
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "{?}"
	}
	return string(b)
}

func init() {
	pf := vectorsCmd.PersistentFlags()
	pf.StringVar(&vecIndex, "index", "", "Index name (default search.index)")
	pf.StringVarP(&vecNamespace, "namespace", "n", "", "Namespace")

	vectorsUpsertCmd.Flags().StringVarP(&vecFile, "file", "f", "-", "Input file ('-' for stdin)")

	qf := vectorsQueryCmd.Flags()
	qf.StringVar(&vecVector, "vector", "", "Query vector, comma separated")
	qf.StringVar(&vecID, "id", "", "Query by the vector of a stored record")
	qf.IntVarP(&vecTopK, "top-k", "k", 10, "Number of matches")
	qf.StringVar(&vecFilter, "filter", "", "Metadata filter as JSON")
	qf.BoolVar(&vecValues, "include-values", false, "Return vector values")
	qf.BoolVar(&vecMetadata, "include-metadata", true, "Return metadata")

	vectorsDeleteCmd.Flags().BoolVar(&vecAll, "all", false, "Delete every record in the namespace")
	vectorsDeleteCmd.Flags().StringVar(&vecFilter, "filter", "", "Metadata filter as JSON")

	vectorsUpdateCmd.Flags().StringVar(&vecVector, "vector", "", "New values, comma separated")
	vectorsUpdateCmd.Flags().StringVar(&vecSetMeta, "set-metadata", "", "Metadata to merge, as JSON object")

	vectorsStatsCmd.Flags().StringVar(&vecFilter, "filter", "", "Only count records matching this JSON filter")

	vectorsCmd.AddCommand(vectorsUpsertCmd, vectorsFetchCmd, vectorsQueryCmd, vectorsDeleteCmd, vectorsUpdateCmd, vectorsStatsCmd)
	rootCmd.AddCommand(vectorsCmd)
}
