package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/medpulse/internal/model"
)

// seedFile はシードファイルのトップレベル構造。
//
//	sources:
//	  - name: Example Health News
//	    base_url: https://news.example.com/health
//	    fair_use_basis: news reporting
type seedFile struct {
	Sources []model.SourceDraft `yaml:"sources"`
}

// LoadSeedFile はYAMLのシードファイルからソースの入力値を読み込む。
func LoadSeedFile(path string) ([]model.SourceDraft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed はシードファイルの内容をパースする。未知のキーはエラーにする。
func ParseSeed(data []byte) ([]model.SourceDraft, error) {
	var f seedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return f.Sources, nil
}

// SeedResult はシード投入の結果。
type SeedResult struct {
	Created int
	Skipped int
	Failed  int
}

// Seed は入力値を順に登録する。既に登録済みのbase_urlはスキップする。
func (r *Registry) Seed(ctx context.Context, drafts []model.SourceDraft, actor string) SeedResult {
	var res SeedResult
	for _, d := range drafts {
		_, err := r.Register(ctx, d, actor)
		var verr *model.ValidationError
		switch {
		case err == nil:
			res.Created++
		case errors.As(err, &verr) && isAlreadyRegistered(verr):
			res.Skipped++
		default:
			res.Failed++
			r.logger.Warn("シードの登録に失敗しました",
				slog.String("base_url", d.BaseURL),
				slog.String("error", err.Error()),
			)
		}
	}
	return res
}

func isAlreadyRegistered(err *model.ValidationError) bool {
	for _, p := range err.Problems {
		if p == "base_url is already registered" {
			return true
		}
	}
	return false
}
