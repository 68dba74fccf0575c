package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-narrator/internal/api"
	"github.com/wonny/aegis-narrator/internal/api/handlers"
	"github.com/wonny/aegis-narrator/internal/scheduler"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

Endpoints:
  GET  /health                        - Health check
  POST /api/reports                   - 리포트 생성
  GET  /api/quality/{template}        - 템플릿 버전별 품질 집계 (SINK_POSTGRES)
  GET  /api/schedule/jobs             - 스케줄 작업 통계 (--with-scheduler)
  POST /api/schedule/jobs/{name}/run  - 작업 즉시 실행
  GET  /ws/events                     - 파이프라인 이벤트 (websocket)

Example:
  go run ./cmd/narrator serve
  go run ./cmd/narrator serve --port 8090 --with-scheduler`,
	RunE: runServe,
}

var (
	servePort      string
	serveScheduler bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "API 서버 포트 (기본: PORT)")
	serveCmd.Flags().BoolVar(&serveScheduler, "with-scheduler", false, "리포트 스케줄러 함께 실행")
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Aegis Narrator API Server ===")

	a, err := newApp(context.Background(), appOptions{hub: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if servePort != "" {
		a.cfg.Port = servePort
	}
	log := a.log

	routes := api.Routes{
		Events: a.hub,
	}
	// a nil *PostgresSink must not reach the QualityStore interface
	if a.pgSink != nil {
		routes.Reports = handlers.NewReportHandler(a.pipeline, a.pgSink, log)
	} else {
		routes.Reports = handlers.NewReportHandler(a.pipeline, nil, log)
	}

	var sched *scheduler.Scheduler
	if serveScheduler {
		if sched, err = newScheduler(a); err != nil {
			return err
		}
		routes.Schedule = handlers.NewScheduleHandler(sched, log)
		sched.Start()
		defer sched.Stop()
	}

	server := api.New(a.cfg, log, api.NewRouter(routes, log))

	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	log.Info("API server started successfully")
	fmt.Printf("\n✅ Server running on http://localhost:%s\n", a.cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
