package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ratlabs/vecstore/internal/config"
	"github.com/ratlabs/vecstore/internal/ingest"
)

var (
	ingestTopic     string
	ingestBrokers   string
	ingestIndex     string
	ingestFile      string
	ingestNamespace string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Consume upsert messages from Kafka and write them to an index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, c, err := clientFromConfig()
		if err != nil {
			return err
		}
		ic := ingestConfig(cfg.Ingest)
		name := firstNonEmpty(ingestIndex, ic.Index, cfg.Search.Index)
		if strings.TrimSpace(ic.Brokers) == "" || strings.TrimSpace(ic.Topic) == "" {
			return fmt.Errorf("ingest.brokers and ingest.topic are required")
		}

		ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		idx, err := c.Index(ctx, name)
		if err != nil {
			return err
		}
		reader := ingest.NewKafkaReader(ic)
		defer reader.Close()

		consumer := ingest.NewConsumer(reader, idx, ic.BatchSize, ic.FlushInterval(), slog.Default())
		printHeader(cmd.OutOrStdout(), "vecstore ingest")
		fmt.Fprintf(cmd.OutOrStdout(), "Consuming %s from %s into %s\n", ic.Topic, ic.Brokers, name)
		err = consumer.Run(ctx)
		st := consumer.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "upserted=%d skipped=%d flushes=%d\n", st.Upserted, st.Skipped, st.Flushes)
		return err
	},
}

var ingestPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish records (JSON array or JSON lines) to the ingest topic",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ic := ingestConfig(cfg.Ingest)
		data, err := readInput(cmd, ingestFile)
		if err != nil {
			return err
		}
		records, err := decodeRecords(data)
		if err != nil {
			return err
		}
		w := ingest.NewKafkaWriter(ic)
		defer w.Close()
		n, err := ingest.Publish(cmdContext(cmd), w, records, ingestNamespace, ic.BatchSize)
		if err != nil {
			return fmt.Errorf("published %d of %d: %w", n, len(records), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %d record(s) to %s\n", n, ic.Topic)
		return nil
	},
}

var ingestCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the brokers answer and the ingest topic exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ic := ingestConfig(cfg.Ingest)
		info, err := ingest.CheckTopic(cmdContext(cmd), ic.Brokers, ic.Topic, 10*time.Second)
		if err != nil {
			return fmt.Errorf("topic %s: %w", ic.Topic, err)
		}
		return printResult(cmd, info, func(w io.Writer) {
			fmt.Fprintf(w, "topic %s: %d partition(s), %d with leader (via %s)\n", ic.Topic, info.Partitions, info.Leaders, info.Broker)
		})
	},
}

// ingestConfig applies the --topic and --brokers overrides.
func ingestConfig(ic config.IngestConfig) config.IngestConfig {
	if ingestTopic != "" {
		ic.Topic = ingestTopic
	}
	if ingestBrokers != "" {
		ic.Brokers = ingestBrokers
	}
	return ic
}

func init() {
	ingestCmd.PersistentFlags().StringVar(&ingestTopic, "topic", "", "Kafka topic (default ingest.topic)")
	ingestCmd.PersistentFlags().StringVar(&ingestBrokers, "brokers", "", "Comma-separated brokers (default ingest.brokers)")
	ingestCmd.Flags().StringVar(&ingestIndex, "index", "", "Target index (default ingest.index, then search.index)")
	ingestPublishCmd.Flags().StringVarP(&ingestFile, "file", "f", "-", "Input file ('-' for stdin)")
	ingestPublishCmd.Flags().StringVarP(&ingestNamespace, "namespace", "n", "", "Namespace stamped on every record")
	ingestCmd.AddCommand(ingestPublishCmd, ingestCheckCmd)
	rootCmd.AddCommand(ingestCmd)
}
