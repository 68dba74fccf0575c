package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-narrator/internal/registry"
	"github.com/wonny/aegis-narrator/pkg/config"
	"github.com/wonny/aegis-narrator/pkg/database"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// templatesCmd represents the templates command
var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "프롬프트 템플릿 관리",
	Long: `templates.yaml 템플릿을 조회하거나 Postgres 레지스트리에 게시합니다.
게시된 버전은 불변입니다 (같은 버전은 건너뜀).

Example:
  go run ./cmd/narrator templates list
  go run ./cmd/narrator templates sync`,
}

var (
	templatesListCmd = &cobra.Command{
		Use:   "list",
		Short: "파일 템플릿 목록",
		RunE:  runTemplatesList,
	}

	templatesSyncCmd = &cobra.Command{
		Use:   "sync",
		Short: "파일 템플릿을 Postgres 에 게시",
		RunE:  runTemplatesSync,
	}
)

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.AddCommand(templatesListCmd, templatesSyncCmd)
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	reg, err := registry.LoadFile(cfg.Report.TemplatesPath)
	if err != nil {
		return err
	}
	for _, tpl := range reg.All() {
		fmt.Printf("%-20s %3d placeholders\n", tpl.ID(), len(tpl.Placeholders))
	}
	return nil
}

func runTemplatesSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg)

	src, err := registry.LoadFile(cfg.Report.TemplatesPath)
	if err != nil {
		return err
	}

	db, err := database.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	published, err := registry.NewPostgresRegistry(db.Pool, log).Sync(ctx, src)
	if err != nil {
		return err
	}
	fmt.Printf("✅ published %d new template versions (%d in file)\n", published, len(src.All()))
	return nil
}
