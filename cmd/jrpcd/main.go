// Command jrpcd 运行 JSON-RPC 服务，并提供调用与控制通道的命令行工具。
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/legamerdc/jrpc/logx"
)

var (
	logLevel   string
	logConsole bool

	rootCmd = &cobra.Command{
		Use:           "jrpcd",
		Short:         "Length-prefixed JSON-RPC server on a single-threaded reactor.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&logConsole, "log-console", true, "human readable log output")
	rootCmd.AddCommand(newServeCmd(), newCallCmd(), newCtlCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logx.New(logx.Config{Console: true}).Error("jrpcd failed", logx.Err(err))
		os.Exit(1)
	}
}
