package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-narrator/internal/registry"
	"github.com/wonny/aegis-narrator/internal/reportconfig"
	"github.com/wonny/aegis-narrator/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "설정 검증 / 해시",
	Long: `환경 설정(.env)과 도메인 설정(report.yaml, templates.yaml)을 검증합니다.

Example:
  go run ./cmd/narrator config check
  go run ./cmd/narrator config hash`,
}

var (
	configCheckCmd = &cobra.Command{
		Use:   "check",
		Short: "설정 검증 + 경고 출력",
		RunE:  runConfigCheck,
	}

	configHashCmd = &cobra.Command{
		Use:   "hash",
		Short: "report.yaml 버전 해시 출력",
		RunE:  runConfigHash,
	}
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configCheckCmd, configHashCmd)
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("❌ %w", err)
	}
	fmt.Printf("✅ env config (ENV: %s, provider: %s, template store: %s)\n", cfg.Env, cfg.LLM.Provider, cfg.Report.TemplateStore)

	report, _, err := reportconfig.Load(cfg.Report.ConfigPath)
	if err != nil {
		return fmt.Errorf("❌ %s: %w", cfg.Report.ConfigPath, err)
	}
	hash, err := reportconfig.ShortHash(report)
	if err != nil {
		return err
	}
	fmt.Printf("✅ %s (hash %s)\n", cfg.Report.ConfigPath, hash)

	templates, err := registry.LoadFile(cfg.Report.TemplatesPath)
	if err != nil {
		return fmt.Errorf("❌ %s: %w", cfg.Report.TemplatesPath, err)
	}
	fmt.Printf("✅ %s (%d templates)\n", cfg.Report.TemplatesPath, len(templates.All()))

	if _, err := templates.Get(context.Background(), report.Generation.Template, report.Generation.TemplateVersion); err != nil {
		return fmt.Errorf("❌ configured template: %w", err)
	}

	warnings := reportconfig.Warn(report)
	for _, w := range warnings {
		fmt.Printf("⚠️  %s: %s\n", w.Code, w.Message)
	}
	if len(warnings) == 0 {
		fmt.Println("no warnings")
	}
	return nil
}

func runConfigHash(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	report, _, err := reportconfig.Load(cfg.Report.ConfigPath)
	if err != nil {
		return err
	}
	hash, err := reportconfig.Hash(report)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
