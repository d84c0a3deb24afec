package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ratlabs/vecstore/internal/vectorstore"
)

var (
	indexDimension      int
	indexMetric         string
	indexPods           int
	indexReplicas       int
	indexShards         int
	indexPodType        string
	indexMetadataFields []string
	indexSource         string
	indexWait           bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage vector indexes",
}

var indexCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, err := clientFromConfig()
		if err != nil {
			return err
		}
		req := vectorstore.CreateIndexRequest{
			Name:             args[0],
			Dimension:        indexDimension,
			Metric:           vectorstore.Metric(indexMetric),
			Pods:             indexPods,
			Replicas:         indexReplicas,
			Shards:           indexShards,
			SourceCollection: indexSource,
		}
		if indexPodType != "" {
			pt, err := vectorstore.ParsePodType(indexPodType)
			if err != nil {
				return err
			}
			req.PodType = pt
		}
		if len(indexMetadataFields) > 0 {
			req.MetadataConfig = &vectorstore.MetadataConfig{Indexed: indexMetadataFields}
		}
		ctx := cmdContext(cmd)
		if err := c.CreateIndex(ctx, req); err != nil {
			return err
		}
		if !indexWait {
			fmt.Fprintf(cmd.OutOrStdout(), "index %s created\n", args[0])
			return nil
		}
		desc, err := c.WaitForReady(ctx, args[0])
		if err != nil {
			return err
		}
		return printResult(cmd, desc, func(w io.Writer) { writeIndexDescription(w, desc) })
	},
}

var indexDescribeCmd = &cobra.Command{
	Use:   "describe <name>",
	Short: "Describe an index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, err := clientFromConfig()
		if err != nil {
			return err
		}
		desc, err := c.DescribeIndex(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd, desc, func(w io.Writer) { writeIndexDescription(w, desc) })
	},
}

var indexListCmd = &cobra.Command{
	Use:   "list",
	Short: "List index names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, err := clientFromConfig()
		if err != nil {
			return err
		}
		names, err := c.ListIndexes(cmdContext(cmd))
		if err != nil {
			return err
		}
		return printResult(cmd, names, func(w io.Writer) {
			for _, n := range names {
				fmt.Fprintln(w, n)
			}
		})
	},
}

var indexDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, err := clientFromConfig()
		if err != nil {
			return err
		}
		ctx := cmdContext(cmd)
		if err := c.DeleteIndex(ctx, args[0]); err != nil {
			return err
		}
		if indexWait {
			if err := c.WaitForDeleted(ctx, args[0]); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "index %s deleted\n", args[0])
		return nil
	},
}

var indexScaleCmd = &cobra.Command{
	Use:   "scale <name> <replicas>",
	Short: "Change the replica count of an index",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var replicas int
		if _, err := fmt.Sscanf(args[1], "%d", &replicas); err != nil {
			return fmt.Errorf("replicas must be an integer: %q", args[1])
		}
		_, c, err := clientFromConfig()
		if err != nil {
			return err
		}
		if err := c.ScaleIndex(cmdContext(cmd), args[0], replicas); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "index %s scaled to %d replica(s)\n", args[0], replicas)
		return nil
	},
}

var indexConfigureCmd = &cobra.Command{
	Use:   "configure <name>",
	Short: "Change replicas and/or pod type of an index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req vectorstore.ConfigureIndexRequest
		if cmd.Flags().Changed("replicas") {
			r := indexReplicas
			req.Replicas = &r
		}
		if indexPodType != "" {
			pt, err := vectorstore.ParsePodType(indexPodType)
			if err != nil {
				return err
			}
			req.PodType = &pt
		}
		_, c, err := clientFromConfig()
		if err != nil {
			return err
		}
		if err := c.ConfigureIndex(cmdContext(cmd), args[0], req); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "index %s reconfigured\n", args[0])
		return nil
	},
}

var indexWaitCmd = &cobra.Command{
	Use:   "wait <name>",
	Short: "Block until an index is ready to serve",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, err := clientFromConfig()
		if err != nil {
			return err
		}
		desc, err := c.WaitForReady(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd, desc, func(w io.Writer) { writeIndexDescription(w, desc) })
	},
}

func writeIndexDescription(w io.Writer, d *vectorstore.IndexDescription) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", d.Database.Name)
	fmt.Fprintf(tw, "Dimension:\t%d\n", d.Database.Dimension)
	fmt.Fprintf(tw, "Metric:\t%s\n", d.Database.Metric)
	fmt.Fprintf(tw, "Pods:\t%d (%s, %d shard(s) x %d replica(s))\n", d.Database.Pods, d.Database.PodType, d.Database.Shards, d.Database.Replicas)
	if d.Database.MetadataConfig != nil {
		fmt.Fprintf(tw, "Indexed:\t%s\n", strings.Join(d.Database.MetadataConfig.Indexed, ", "))
	}
	if d.Database.SourceCollection != "" {
		fmt.Fprintf(tw, "Source:\t%s\n", d.Database.SourceCollection)
	}
	fmt.Fprintf(tw, "State:\t%s (ready=%t)\n", d.Status.State, d.Status.Ready)
	if d.Status.Host != "" {
		fmt.Fprintf(tw, "Host:\t%s\n", d.Status.Host)
	}
	tw.Flush()
}

func init() {
	f := indexCreateCmd.Flags()
	f.IntVar(&indexDimension, "dimension", 0, "Vector dimension (required)")
	f.StringVar(&indexMetric, "metric", string(vectorstore.MetricCosine), "Similarity metric (cosine, euclidean, dotproduct)")
	f.IntVar(&indexPods, "pods", 0, "Pod count (default shards x replicas)")
	f.IntVar(&indexReplicas, "replicas", 0, "Replica count")
	f.IntVar(&indexShards, "shards", 0, "Shard count")
	f.StringVar(&indexPodType, "pod-type", "", "Pod type, e.g. p1.x1")
	f.StringSliceVar(&indexMetadataFields, "metadata-indexed", nil, "Metadata fields to index for filtering")
	f.StringVar(&indexSource, "source-collection", "", "Create the index from a collection")
	f.BoolVar(&indexWait, "wait", false, "Wait until the index is ready")
	_ = indexCreateCmd.MarkFlagRequired("dimension")

	indexDeleteCmd.Flags().BoolVar(&indexWait, "wait", false, "Wait until the index is gone")

	indexConfigureCmd.Flags().IntVar(&indexReplicas, "replicas", 0, "New replica count")
	indexConfigureCmd.Flags().StringVar(&indexPodType, "pod-type", "", "New pod type, e.g. p1.x2")

	indexCmd.AddCommand(indexCreateCmd, indexDescribeCmd, indexListCmd, indexDeleteCmd,
		indexScaleCmd, indexConfigureCmd, indexWaitCmd)
	rootCmd.AddCommand(indexCmd)
}
