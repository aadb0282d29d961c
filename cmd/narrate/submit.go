package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

func newSubmitCommand(global *globalFlags) *cobra.Command {
	var (
		flags   synthFlags
		servers []string
		timeout time.Duration
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "submit [file]",
		Short: "Send a narration request to a running narratord and wait for the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			if len(servers) > 0 {
				cfg.Bus.Servers = servers
			}

			ctx := cmd.Context()
			client, err := bus.Connect(ctx, cfg.Bus, global.logger())
			if err != nil {
				return err
			}
			defer client.Close()

			req := protocol.NarrationRequest{
				JobID:        uuid.NewString(),
				Text:         text,
				Backend:      flags.backend,
				VoiceName:    flags.voice,
				LanguageCode: flags.language,
				MIMEType:     flags.mimeType,
				Source:       flags.source,
			}
			if watch {
				sub, err := client.Conn().Subscribe(protocol.StatusSubject(req.JobID), func(msg *nats.Msg) {
					var status protocol.NarrationStatus
					if json.Unmarshal(msg.Data, &status) == nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", status.Timestamp.Format(time.TimeOnly), status.Stage)
					}
				})
				if err != nil {
					return err
				}
				defer sub.Unsubscribe()
			}

			data, err := json.Marshal(req)
			if err != nil {
				return err
			}
			reqCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			msg, err := client.Conn().RequestWithContext(reqCtx, protocol.SubjectNarrationRequest, data)
			if err != nil {
				return fmt.Errorf("narration request %s: %w", req.JobID, err)
			}

			var res protocol.NarrationResult
			if err := json.Unmarshal(msg.Data, &res); err != nil {
				return fmt.Errorf("decode narration result: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.Error != "" {
				return fmt.Errorf("narration %s failed: %s", res.JobID, res.Error)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringSliceVar(&servers, "nats", nil, "NATS server URLs (defaults to bus.servers from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for the result")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Print stage changes while waiting")
	return cmd
}
