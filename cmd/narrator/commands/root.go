package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	envFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "narrator",
	Short: "Aegis Narrator - grounded market report generator",
	Long: `Aegis Narrator CLI

지표 → 상태 → 컨텍스트 → 프롬프트 → 생성 → 주입 → 게이트 → 랭크.
LLM은 {{TOKEN}} 자리표시자만 쓰고, 숫자는 전부 계산된 값으로 주입됩니다.

Usage:
  go run ./cmd/narrator [command]

Examples:
  go run ./cmd/narrator generate --symbol 005930
  go run ./cmd/narrator serve
  go run ./cmd/narrator schedule start
  go run ./cmd/narrator config check`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return applyGlobalFlags()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file loaded before the process environment (default .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
