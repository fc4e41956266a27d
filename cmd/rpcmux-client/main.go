// Command rpcmux-client is a small CLI wrapper around package rpcclient,
// for exercising a running rpcmux server by hand.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"rpcmux/rpcclient"
)

var (
	addr      string
	timeoutMs int64
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rpcmux-client",
		Short: "Call an rpcmux server from the command line",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:4000", "server address")
	root.AddCommand(newCallCmd(), newEmitCmd())
	return root
}

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <pattern> <json-data>",
		Short: "Send a request and print the reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := decodeJSONArg(args[1])
			if err != nil {
				return err
			}

			client, err := rpcclient.Dial("tcp", addr)
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			result, err := client.Call(ctx, args[0], data, timeoutMs)
			if err != nil {
				return fmt.Errorf("call %s: %w", args[0], err)
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal result: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().Int64Var(&timeoutMs, "timeout-ms", 0, "server-side per-request timeout override")
	return cmd
}

func newEmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "emit <pattern> <json-data>",
		Short: "Send a fire-and-forget event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := decodeJSONArg(args[1])
			if err != nil {
				return err
			}

			client, err := rpcclient.Dial("tcp", addr)
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer client.Close()

			if err := client.Emit(args[0], data); err != nil {
				return fmt.Errorf("emit %s: %w", args[0], err)
			}
			return nil
		},
	}
}

func decodeJSONArg(raw string) (any, error) {
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("parse json argument: %w", err)
	}
	return data, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
