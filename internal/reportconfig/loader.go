package reportconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads YAML file and returns Config with raw bytes
// SSOT 핵심: KnownFields(true)로 오타/미사용 필드 즉시 실패
func Load(path string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read report config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, data, err
	}
	return cfg, data, nil
}

// Parse decodes and validates YAML bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode report config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Hash generates SHA256 hash from Config (canonical JSON)
// 주의: map 대신 struct 사용으로 해시 재현성 보장
func Hash(cfg *Config) (string, error) {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}

// ShortHash returns the first 12 hex chars of Hash, used as the event version tag
func ShortHash(cfg *Config) (string, error) {
	h, err := Hash(cfg)
	if err != nil {
		return "", err
	}
	return h[:12], nil
}

func applyDefaults(cfg *Config) {
	f := &cfg.Facts
	if f.RSIPeriod == 0 {
		f.RSIPeriod = 14
	}
	if f.MAWindow == 0 {
		f.MAWindow = 20
	}
	if f.VolatilityWindow == 0 {
		f.VolatilityWindow = 20
	}
	if f.AnnualizationDays == 0 {
		f.AnnualizationDays = 252
	}
	if f.MinStrategyTrades == 0 {
		f.MinStrategyTrades = 1
	}

	r := &cfg.Rank.Rules
	if r.TargetSentenceWords == 0 {
		r.TargetSentenceWords = 20
	}
	if r.MaxHedgeRatio == 0 {
		r.MaxHedgeRatio = 0.05
	}
	if r.TargetValueDensity == 0 {
		r.TargetValueDensity = 3
	}
	if len(r.HedgeWords) == 0 {
		r.HedgeWords = []string{"may", "might", "could", "perhaps", "possibly", "likely", "appears", "seems"}
	}

	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = "Asia/Seoul"
	}

	for i := range cfg.Rank.Criteria {
		if cfg.Rank.Criteria[i].Kind == KindHybrid && cfg.Rank.Criteria[i].Blend == "" {
			cfg.Rank.Criteria[i].Blend = "mean"
		}
	}
}
