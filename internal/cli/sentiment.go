package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ratlabs/vecstore/internal/embedding"
)

var (
	sentimentInputsFile string
	sentimentExamples   string
	sentimentModel      string
)

var sentimentCmd = &cobra.Command{
	Use:   "sentiment [text...]",
	Short: "Classify texts by sentiment with Cohere classify",
	Long: "Classifies each argument, or one text per line from --inputs (or stdin) when no\n" +
		"arguments are given, using sentiment.model or the labelled examples in\n" +
		"sentiment.examplesPath (see `vecstore prep emotions`).",
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs := args
		if len(inputs) == 0 {
			data, err := readInput(cmd, sentimentInputsFile)
			if err != nil {
				return err
			}
			inputs = splitLines(data)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sc := cfg.Sentiment
		if sentimentExamples != "" {
			sc.ExamplesPath = sentimentExamples
		}
		if sentimentModel != "" {
			sc.Model = sentimentModel
		}
		classifier, err := embedding.NewClassifier(sc)
		if err != nil {
			return fmt.Errorf("sentiment: %w", err)
		}
		cls, err := classifier.Classify(cmdContext(cmd), inputs)
		if err != nil {
			return err
		}
		return printResult(cmd, cls, func(w io.Writer) {
			for _, c := range cls {
				fmt.Fprintf(w, "%s\t%.2f\t%s\n", c.Prediction, c.Confidence, c.Input)
			}
			parts := make([]string, 0, len(cls))
			for _, lc := range embedding.Tally(cls) {
				parts = append(parts, fmt.Sprintf("%s x%d", lc.Label, lc.Count))
			}
			fmt.Fprintln(w, strings.Join(parts, ", "))
		})
	},
}

func init() {
	sentimentCmd.Flags().StringVarP(&sentimentInputsFile, "inputs", "i", "-", "File with one text per line ('-' for stdin)")
	sentimentCmd.Flags().StringVar(&sentimentExamples, "examples", "", "Examples JSON file (default sentiment.examplesPath)")
	sentimentCmd.Flags().StringVar(&sentimentModel, "model", "", "Fine-tuned classify model (default sentiment.model)")
	rootCmd.AddCommand(sentimentCmd)
}
