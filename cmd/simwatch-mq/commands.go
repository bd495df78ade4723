package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"simwatch/internal/agent"
	"simwatch/internal/broker"
	"simwatch/internal/mq"
	"simwatch/pkg/bootstrap"
	pkgerrors "simwatch/pkg/errors"
	"simwatch/pkg/logging"
)

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agents and the message types each one handles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeAgents(cmd.OutOrStdout())
		},
	}
}

func writeAgents(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tQUEUE\tTYPES\tDESCRIPTION")
	for _, d := range agent.Definitions() {
		types := d.Types()
		names := make([]string, 0, len(types))
		for _, t := range types {
			names = append(names, string(t))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.Queue, strings.Join(names, ","), d.Description)
	}
	return w.Flush()
}

type publishOptions struct {
	Type           string
	File           string
	DelayMs        int64
	CorrelationIDs []string
	Base64         bool
}

func publishCmd() *cobra.Command {
	var opts publishOptions

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one message built from a JSON payload file",
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := mq.ParseType(opts.Type)
			if err != nil {
				return err
			}
			payload, err := readPayload(opts.File, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, log, err := loadConfig(logging.NewEarlyLog(serviceName))
			if err != nil {
				return err
			}
			defer log.Sync()

			producer, err := broker.NewProducer(cfg, log)
			if err != nil {
				return err
			}
			defer producer.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			base := bootstrap.NewBase(cfg, log)
			msg, err := base.Enqueuer(producer).Build(typ, payload, opts.enqueueOptions()...)
			if err != nil {
				return err
			}
			if err := producer.Publish(ctx, msg); err != nil {
				return fmt.Errorf("publish %s: %w", typ, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s (message_id=%s)\n",
				typ, msg.Exchange, msg.Properties.MessageID())
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "Message type code, e.g. 1000")
	cmd.Flags().StringVar(&opts.File, "file", "", "JSON payload file, - for stdin")
	cmd.Flags().Int64Var(&opts.DelayMs, "delay", 0, "Delivery delay in milliseconds")
	cmd.Flags().StringSliceVar(&opts.CorrelationIDs, "correlation-id", nil, "Correlation ids (up to three)")
	cmd.Flags().BoolVar(&opts.Base64, "base64", false, "Send the payload base64 encoded")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (o publishOptions) enqueueOptions() []mq.EnqueueOption {
	var opts []mq.EnqueueOption
	if o.DelayMs > 0 {
		opts = append(opts, mq.WithDelay(o.DelayMs))
	}
	if len(o.CorrelationIDs) > 0 {
		opts = append(opts, mq.WithCorrelationIDs(o.CorrelationIDs...))
	}
	if o.Base64 {
		opts = append(opts, mq.WithContentEncoding(mq.EncodingBase64))
	}
	return opts
}

func readPayload(path string, stdin io.Reader) (json.RawMessage, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if !json.Valid(raw) {
		return nil, pkgerrors.ErrValidation.WithMessage("payload in %s is not valid JSON", path)
	}
	return json.RawMessage(raw), nil
}
