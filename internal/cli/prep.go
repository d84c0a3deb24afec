package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ratlabs/vecstore/internal/dataprep"
)

var (
	prepIn  string
	prepOut string
)

var prepCmd = &cobra.Command{
	Use:   "prep",
	Short: "Convert raw datasets into embedding inputs",
}

var prepPairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "Turn alternating text and label lines into a text,label CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrepIO(cmd, func(in io.Reader, out io.Writer) error {
			n, err := dataprep.PairsToCSV(in, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d row(s)\n", n)
			return nil
		})
	},
}

var prepEmotionsCmd = &cobra.Command{
	Use:   "emotions",
	Short: "Turn a one-hot emotion CSV into labelled JSON examples",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrepIO(cmd, func(in io.Reader, out io.Writer) error {
			examples, err := dataprep.EmotionsToExamples(in)
			if err != nil {
				return err
			}
			if err := dataprep.WriteExamples(out, examples); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d example(s)\n", len(examples))
			return nil
		})
	},
}

func withPrepIO(cmd *cobra.Command, fn func(io.Reader, io.Writer) error) error {
	var in io.Reader = cmd.InOrStdin()
	if prepIn != "" && prepIn != "-" {
		f, err := os.Open(prepIn)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	var out io.Writer = cmd.OutOrStdout()
	if prepOut != "" && prepOut != "-" {
		f, err := os.Create(prepOut)
		if err != nil {
			return err
		}
		if err := fn(in, f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return fn(in, out)
}

func init() {
	prepCmd.PersistentFlags().StringVarP(&prepIn, "in", "i", "-", "Input file ('-' for stdin)")
	prepCmd.PersistentFlags().StringVarP(&prepOut, "out", "o", "-", "Output file ('-' for stdout)")
	prepCmd.AddCommand(prepPairsCmd, prepEmotionsCmd)
	rootCmd.AddCommand(prepCmd)
}
