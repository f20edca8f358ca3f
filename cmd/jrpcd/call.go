package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/legamerdc/jrpc/client"
	"github.com/legamerdc/jrpc/protocol"
)

func newCallCmd() *cobra.Command {
	var (
		addr     string
		timeout  time.Duration
		compress bool
	)
	cmd := &cobra.Command{
		Use:   "call <function> [params-json]",
		Short: "Calls a function on a running server and prints the response.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmdContext(cmd), timeout)
			defer cancel()

			c, err := client.Dial(ctx, addr, client.WithCompression(compress))
			if err != nil {
				return err
			}
			defer c.Close()

			call := map[string]any{"function": args[0]}
			if params != nil {
				call["params"] = params
			}
			res, err := c.Do(ctx, map[string]any{"call": call})
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:6000", "server address")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "call timeout")
	cmd.Flags().BoolVar(&compress, "compress", false, "zstd-compress the request")
	return cmd
}

func parseParams(args []string) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	v, err := protocol.Unmarshal([]byte(args[0]))
	if err != nil {
		return nil, errors.Wrap(err, "parse params failed")
	}
	return v, nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
