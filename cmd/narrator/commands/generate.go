package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/pipeline"
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "리포트 1건 생성",
	Long: `한 종목의 리포트를 생성하고 결과를 출력합니다.

payload는 --payload 파일, 없으면 UPSTREAM_SOURCE (file, http, naver)에서 읽습니다.

Example:
  go run ./cmd/narrator generate --symbol 005930
  go run ./cmd/narrator generate --symbol 005930 --as-of 2026-10-16 --output json
  go run ./cmd/narrator generate --payload data/payloads/000660.json --diagnostic`,
	RunE: runGenerate,
}

var (
	genSymbol     string
	genAsOf       string
	genTemplate   string
	genVersion    string
	genPayload    string
	genBlocks     map[string]string
	genDiagnostic bool
	genOutput     string
)

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVar(&genSymbol, "symbol", "", "종목 코드")
	generateCmd.Flags().StringVar(&genAsOf, "as-of", "", "기준일 (YYYY-MM-DD)")
	generateCmd.Flags().StringVar(&genTemplate, "template", "", "템플릿 이름 (기본: report.yaml generation.template)")
	generateCmd.Flags().StringVar(&genVersion, "version", "", "템플릿 버전 (기본: latest)")
	generateCmd.Flags().StringVar(&genPayload, "payload", "", "market payload JSON 파일")
	generateCmd.Flags().StringToStringVar(&genBlocks, "block", nil, "추가 컨텍스트 블록 NAME=text")
	generateCmd.Flags().BoolVar(&genDiagnostic, "diagnostic", false, "게이트 실패 시에도 진단용 랭크 계산")
	generateCmd.Flags().StringVarP(&genOutput, "output", "o", "text", "출력 형식 (text|json)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := pipeline.Request{
		Symbol:          genSymbol,
		Blocks:          genBlocks,
		Template:        genTemplate,
		TemplateVersion: genVersion,
		DiagnosticRank:  genDiagnostic,
	}
	if genAsOf != "" {
		asOf, err := time.Parse("2006-01-02", genAsOf)
		if err != nil {
			return fmt.Errorf("invalid --as-of: %w", err)
		}
		req.AsOf = &asOf
	}
	if genPayload != "" {
		data, err := os.ReadFile(genPayload)
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
		var p contracts.MarketPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		req.Payload = &p
	}
	if req.Symbol == "" && req.Payload == nil {
		return fmt.Errorf("--symbol or --payload is required")
	}

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	res, runErr := a.pipeline.Run(ctx, req)
	if res != nil {
		if err := printResult(res); err != nil {
			return err
		}
	}
	return runErr
}

func printResult(res *pipeline.Result) error {
	if genOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Printf("=== %s  [%s]  request %s ===\n", res.Symbol, res.Outcome, res.RequestID)
	if res.Template != "" {
		fmt.Printf("template %s@%s, config %s\n", res.Template, res.TemplateVersion, res.ConfigHash)
	}
	if res.Report != nil {
		fmt.Printf("\n%s\n\n", res.Report.Text)
	}
	if q := res.Quality; q != nil {
		fmt.Println("Gate:")
		for _, g := range contracts.AllGates() {
			mark := "✅"
			if !q.Gate.Gates[g] {
				mark = "❌"
			}
			fmt.Printf("  %s %-10s %s\n", mark, g, q.Gate.Details[g])
		}
		printRank("Rank", q.Rank)
	}
	printRank("Diagnostic rank", res.DiagnosticRank)

	fmt.Printf("\nusage: %d calls, %d tokens, $%.5f, %s\n",
		res.Usage.Calls, res.Usage.TotalTokens(), res.Usage.CostUSD, res.Duration.Round(time.Millisecond))
	if res.StrictRetry {
		fmt.Println("strict regeneration: yes")
	}
	if res.Error != "" {
		fmt.Printf("error: %s\n", res.Error)
	}
	return nil
}

func printRank(title string, r *contracts.RankScore) {
	if r == nil {
		return
	}
	fmt.Printf("%s: %.3f", title, r.Composite)
	if r.Partial {
		fmt.Print(" (partial)")
	}
	fmt.Println()
	for name, score := range r.Criteria {
		fmt.Printf("  %-12s %.3f  weight %.2f\n", name, score, r.Weights[name])
	}
	for name, reason := range r.Unavailable {
		fmt.Printf("  %-12s unavailable: %s\n", name, reason)
	}
}
