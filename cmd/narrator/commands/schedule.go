package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-narrator/internal/reportconfig"
	"github.com/wonny/aegis-narrator/internal/scheduler"
	"github.com/wonny/aegis-narrator/internal/scheduler/jobs"
	"github.com/wonny/aegis-narrator/pkg/config"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "스케줄 리포트 관리",
	Long: `report.yaml schedule 섹션의 종목을 cron 으로 생성합니다.
스케줄 실행은 항상 명시적 as-of 날짜(스케줄 timezone 기준 오늘)를 전달합니다.

Subcommands:
  start  - 스케줄러 데몬 시작
  run    - 작업 즉시 1회 실행
  list   - 등록된 작업과 다음 실행 시각

Example:
  go run ./cmd/narrator schedule start
  go run ./cmd/narrator schedule run`,
}

var (
	scheduleStartCmd = &cobra.Command{
		Use:   "start",
		Short: "스케줄러 시작",
		RunE:  runScheduleStart,
	}

	scheduleRunCmd = &cobra.Command{
		Use:   "run",
		Short: "리포트 작업 즉시 실행",
		RunE:  runScheduleNow,
	}

	scheduleListCmd = &cobra.Command{
		Use:   "list",
		Short: "등록된 작업 목록",
		RunE:  runScheduleList,
	}
)

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleStartCmd, scheduleRunCmd, scheduleListCmd)
}

// newScheduler registers the report job from the domain config
func newScheduler(a *app) (*scheduler.Scheduler, error) {
	return buildScheduler(a.report, a.log, a.pipeline)
}

func buildScheduler(report *reportconfig.Config, log *logger.Logger, runner jobs.Runner) (*scheduler.Scheduler, error) {
	sc := report.Schedule
	if !sc.Enabled {
		return nil, fmt.Errorf("schedule is disabled in report config")
	}
	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule timezone: %w", err)
	}

	s := scheduler.New(log, scheduler.Options{Location: loc, MaxRetries: 1, RetryDelay: time.Minute})
	if err := s.AddJob(jobs.NewReportJob(runner, sc.Cron, sc.Symbols, loc, log)); err != nil {
		return nil, err
	}
	return s, nil
}

func runScheduleStart(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Aegis Narrator Scheduler ===")

	a, err := newApp(context.Background(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := newScheduler(a)
	if err != nil {
		return err
	}
	s.Start()

	for _, name := range s.GetAllJobs() {
		next, _ := s.Next(name)
		fmt.Printf("  %-14s next run %s\n", name, next.Format(time.RFC3339))
	}
	fmt.Println("\nPress Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.Stop()
	return nil
}

func runScheduleNow(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := newScheduler(a)
	if err != nil {
		return err
	}

	for _, name := range s.GetAllJobs() {
		result, err := s.RunNow(ctx, name)
		if err != nil {
			return err
		}
		status := "✅"
		if !result.Success {
			status = "❌ " + result.Error
		}
		fmt.Printf("%s  %s (%s, attempts=%d)\n", name, status, result.Duration.Round(time.Millisecond), result.Attempts)
		if result.Summary != "" {
			fmt.Printf("   %s\n", result.Summary)
		}
	}
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg)

	report, err := loadReportConfig(cfg, log)
	if err != nil {
		return err
	}
	// listing never runs a job, so no pipeline is needed
	s, err := buildScheduler(report, log, nil)
	if err != nil {
		return err
	}

	s.Start()
	defer s.Stop()
	for _, name := range s.GetAllJobs() {
		next, _ := s.Next(name)
		fmt.Printf("%-14s %-16s next %s  symbols %v\n", name, report.Schedule.Cron, next.Format(time.RFC3339), report.Schedule.Symbols)
	}
	return nil
}
