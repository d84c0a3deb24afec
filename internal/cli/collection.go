package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ratlabs/vecstore/internal/vectorstore"
)

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Manage collections (static index snapshots)",
}

var collectionCreateCmd = &cobra.Command{
	Use:   "create <name> <source-index>",
	Short: "Snapshot an index into a collection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, err := clientFromConfig()
		if err != nil {
			return err
		}
		req := vectorstore.CreateCollectionRequest{Name: args[0], Source: args[1]}
		if err := c.CreateCollection(cmdContext(cmd), req); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "collection %s created from %s\n", args[0], args[1])
		return nil
	},
}

var collectionDescribeCmd = &cobra.Command{
	Use:   "describe <name>",
	Short: "Describe a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, err := clientFromConfig()
		if err != nil {
			return err
		}
		d, err := c.DescribeCollection(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd, d, func(w io.Writer) {
			fmt.Fprintf(w, "Name:      %s\n", d.Name)
			fmt.Fprintf(w, "Source:    %s\n", d.Source)
			fmt.Fprintf(w, "Status:    %s\n", d.Status)
			fmt.Fprintf(w, "Dimension: %d\n", d.Dimension)
			fmt.Fprintf(w, "Vectors:   %d\n", d.VectorCount)
			fmt.Fprintf(w, "Size:      %d bytes\n", d.Size)
		})
	},
}

var collectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collection names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, err := clientFromConfig()
		if err != nil {
			return err
		}
		names, err := c.ListCollections(cmdContext(cmd))
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

var collectionDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, err := clientFromConfig()
		if err != nil {
			return err
		}
		if err := c.DeleteCollection(cmdContext(cmd), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "collection %s deleted\n", args[0])
		return nil
	},
}

func init() {
	collectionCmd.AddCommand(collectionCreateCmd, collectionDescribeCmd, collectionListCmd, collectionDeleteCmd)
	rootCmd.AddCommand(collectionCmd)
}
