package commands

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-narrator/pkg/config"
	"github.com/wonny/aegis-narrator/pkg/database"
	"github.com/wonny/aegis-narrator/pkg/redis"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "외부 연결 점검",
	Long: `Postgres / Redis 연결을 점검하고 상태를 표시합니다.

Example:
  go run ./cmd/narrator check db
  go run ./cmd/narrator check redis`,
}

var (
	checkDBCmd = &cobra.Command{
		Use:   "db",
		Short: "PostgreSQL 연결 테스트",
		RunE:  runCheckDB,
	}

	checkRedisCmd = &cobra.Command{
		Use:   "redis",
		Short: "Redis 연결 테스트",
		RunE:  runCheckRedis,
	}
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.AddCommand(checkDBCmd, checkRedisCmd)
}

func runCheckDB(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Database Connection Test ===")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("❌ Failed to load config: %w", err)
	}
	fmt.Printf("✅ Config loaded (ENV: %s)\n", cfg.Env)
	fmt.Printf("   Database URL: %s\n\n", maskPassword(cfg.Database.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("❌ Failed to connect to database: %w", err)
	}
	defer db.Close()
	fmt.Println("✅ Database connection established")

	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("❌ %w", err)
	}
	fmt.Println("✅ narrator schema present")

	status, err := db.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("❌ Health check failed: %w", err)
	}

	fmt.Println("✅ Health Check Results:")
	fmt.Printf("   Healthy: %v\n", status.Healthy)
	fmt.Printf("   Response Time: %v\n\n", status.ResponseTime)

	fmt.Println("📊 Connection Pool Statistics:")
	fmt.Printf("   Max Connections: %d\n", status.Stats.MaxConns)
	fmt.Printf("   Total Connections: %d\n", status.Stats.TotalConns)
	fmt.Printf("   Acquired Connections: %d\n", status.Stats.AcquiredConns)
	fmt.Printf("   Idle Connections: %d\n", status.Stats.IdleConns)
	fmt.Printf("   Acquire Count: %d\n", status.Stats.AcquireCount)
	return nil
}

func runCheckRedis(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Redis Connection Test ===")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("❌ Failed to load config: %w", err)
	}
	if !cfg.Redis.Enabled {
		fmt.Println("⚠️  REDIS_ENABLED=false, nothing to check")
		return nil
	}

	client, err := redis.New(cfg)
	if err != nil {
		return fmt.Errorf("❌ %w", err)
	}
	defer client.Close()

	latency, err := client.Ping(context.Background())
	if err != nil {
		return fmt.Errorf("❌ Ping failed: %w", err)
	}
	fmt.Printf("✅ Ping %s in %v (limiter key %s)\n", client.Addr(), latency, client.Key("ratelimit", "llm"))
	return nil
}

// maskPassword masks the password in the database URL for display
func maskPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
