// Package sentiment は医療テキスト向けの辞書ベース感情分析を行う。
//
// 医療ニュースは中立に寄りやすいため、一般的な閾値（±0.05）より保守的な
// ±0.1 / ±0.3 の2段階の帯でラベルを決める。
package sentiment

import (
	"math"

	"github.com/hitoshi/medpulse/internal/model"
)

// ラベル判定の閾値。
const (
	StrongThreshold = 0.3
	WeakThreshold   = 0.1
	// WeakDampening は弱い帯の信頼度に掛ける係数。
	WeakDampening = 0.7
)

// Scorer はテキストの複合スコアを[-1,1]で返す。
type Scorer interface {
	Compound(text string) float64
}

// Result は感情分析の結果。
type Result struct {
	Score      float64
	Label      model.SentimentLabel
	Confidence float64
}

// Analyzer はScorerの複合スコアを閾値でラベルに変換する。
// 状態を持たないため複数ゴルーチンから共有できる。
type Analyzer struct {
	scorer Scorer
}

// NewAnalyzer はAnalyzerを生成する。scorerがnilの場合は医療向け辞書を使う。
func NewAnalyzer(scorer Scorer) *Analyzer {
	if scorer == nil {
		scorer = NewLexicon()
	}
	return &Analyzer{scorer: scorer}
}

// Analyze はtextを解析する。
func (a *Analyzer) Analyze(text string) Result {
	compound := a.scorer.Compound(text)
	label, confidence := Classify(compound)
	return Result{Score: compound, Label: label, Confidence: confidence}
}

// Classify は複合スコアからラベルと信頼度を決める。
//
//	compound >= 0.3  -> positive, |c|
//	compound <= -0.3 -> negative, |c|
//	compound >= 0.1  -> positive, |c|*0.7
//	compound <= -0.1 -> negative, |c|*0.7
//	otherwise        -> neutral,  1-|c|
func Classify(compound float64) (model.SentimentLabel, float64) {
	abs := math.Abs(compound)
	switch {
	case compound >= StrongThreshold:
		return model.SentimentPositive, abs
	case compound <= -StrongThreshold:
		return model.SentimentNegative, abs
	case compound >= WeakThreshold:
		return model.SentimentPositive, abs * WeakDampening
	case compound <= -WeakThreshold:
		return model.SentimentNegative, abs * WeakDampening
	default:
		return model.SentimentNeutral, 1 - abs
	}
}
