// cmd/deepinsight-cli: 终端客户端: 提问并流式展示活动时间线, 结束后渲染报告。
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/multi-agent/deepinsight-client/internal/backend"
	"github.com/multi-agent/deepinsight-client/internal/buildinfo"
	"github.com/multi-agent/deepinsight-client/internal/config"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
)

var (
	verbose bool
	timeout time.Duration
	width   int

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "deepinsight",
	Short: "Terminal client for the deepinsight research assistant",
	Long: `Ask research questions and watch the agents work.

The activity timeline streams while the backend plans, searches and retrieves;
the final report is rendered with numbered citations once it arrives.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if wd, err := os.Getwd(); err == nil {
			config.LoadEnvFile(wd, 5)
		}
		cfg = config.Load()
		logger.Init(cfg.AppEnv)
		logger.SetLevel("WARN")
		if verbose {
			logger.SetLevel("DEBUG")
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := buildinfo.Current()
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) built %s %s\n", info.Version, info.Commit, info.BuildTime, info.Runtime)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Overall command timeout")
	rootCmd.PersistentFlags().IntVar(&width, "width", 100, "Report word wrap width")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func newBackend() *backend.Client {
	return backend.New(cfg, nil)
}
