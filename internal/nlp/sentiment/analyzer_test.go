package sentiment

import (
	"math"
	"testing"

	"github.com/hitoshi/medpulse/internal/model"
)

// fixedScorer は常に同じ複合スコアを返すテスト用Scorer。
type fixedScorer float64

func (f fixedScorer) Compound(string) float64 { return float64(f) }

func TestClassify_Bands(t *testing.T) {
	tests := []struct {
		name           string
		compound       float64
		wantLabel      model.SentimentLabel
		wantConfidence float64
	}{
		{"強い正の境界 0.3", 0.3, model.SentimentPositive, 0.3},
		{"強い負の境界 -0.3", -0.3, model.SentimentNegative, 0.3},
		{"強い正", 0.8, model.SentimentPositive, 0.8},
		{"弱い正 0.2", 0.2, model.SentimentPositive, 0.2 * 0.7},
		{"弱い正の境界 0.1", 0.1, model.SentimentPositive, 0.1 * 0.7},
		{"弱い負 -0.25", -0.25, model.SentimentNegative, 0.25 * 0.7},
		{"弱い負の境界 -0.1", -0.1, model.SentimentNegative, 0.1 * 0.7},
		{"中立 0.05", 0.05, model.SentimentNeutral, 1 - 0.05},
		{"中立 -0.09", -0.09, model.SentimentNeutral, 1 - 0.09},
		{"中立 0", 0, model.SentimentNeutral, 1},
		{"最大", 1, model.SentimentPositive, 1},
		{"最小", -1, model.SentimentNegative, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, conf := Classify(tt.compound)
			if label != tt.wantLabel {
				t.Errorf("label = %q, want %q", label, tt.wantLabel)
			}
			if conf != tt.wantConfidence {
				t.Errorf("confidence = %v, want %v", conf, tt.wantConfidence)
			}
		})
	}
}

// 0.1〜0.3 の間の値は信頼度が compound*0.7 になる。
func TestClassify_WeakBandIsDampened(t *testing.T) {
	for c := 0.11; c < 0.3; c += 0.01 {
		label, conf := Classify(c)
		if label != model.SentimentPositive {
			t.Fatalf("Classify(%v) label = %q, want positive", c, label)
		}
		if conf != c*0.7 {
			t.Fatalf("Classify(%v) confidence = %v, want %v", c, conf, c*0.7)
		}
	}
}

func TestAnalyzer_CompoundOf045IsPositiveWithSameConfidence(t *testing.T) {
	a := NewAnalyzer(fixedScorer(0.45))

	got := a.Analyze("any text")
	if got.Label != model.SentimentPositive {
		t.Errorf("Label = %q, want positive", got.Label)
	}
	if got.Confidence != 0.45 {
		t.Errorf("Confidence = %v, want 0.45", got.Confidence)
	}
	if got.Score != 0.45 {
		t.Errorf("Score = %v, want 0.45", got.Score)
	}
}

func TestAnalyzer_DefaultLexicon(t *testing.T) {
	a := NewAnalyzer(nil)

	tests := []struct {
		name string
		text string
		want model.SentimentLabel
	}{
		{"承認と有効性", "FDA approved an effective new treatment, a real breakthrough.", model.SentimentPositive},
		{"死亡と流行", "The outbreak caused several deaths and severe complications.", model.SentimentNegative},
		{"極性語なし", "The committee will meet on Tuesday to discuss the schedule.", model.SentimentNeutral},
		{"空文字列", "", model.SentimentNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Analyze(tt.text); got.Label != tt.want {
				t.Errorf("Analyze(%q).Label = %q (score %v), want %q", tt.text, got.Label, got.Score, tt.want)
			}
		})
	}
}

func TestLexicon_SingleTermNormalization(t *testing.T) {
	l := NewLexiconWithValence(map[string]float64{"effective": 2.0})

	got := l.Compound("Effective.")
	want := 2.0 / math.Sqrt(4+15)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Compound() = %v, want %v", got, want)
	}
}

func TestLexicon_NegationFlipsPolarity(t *testing.T) {
	l := NewLexicon()

	if l.Compound("the drug was effective") <= 0 {
		t.Fatal("肯定文は正のスコアになるべき")
	}
	if got := l.Compound("the drug was not effective"); got >= 0 {
		t.Errorf("否定文は負のスコアになるべき: got %v", got)
	}
	if got := l.Compound("the drug wasn't effective"); got >= 0 {
		t.Errorf("短縮形の否定も反映されるべき: got %v", got)
	}
}

func TestLexicon_BoosterIncreasesMagnitude(t *testing.T) {
	l := NewLexicon()

	plain := l.Compound("effective")
	boosted := l.Compound("highly effective")
	dampened := l.Compound("slightly effective")
	if !(boosted > plain && plain > dampened) {
		t.Errorf("強調語・緩和語が反映されていない: boosted=%v plain=%v dampened=%v", boosted, plain, dampened)
	}
}

func TestLexicon_ScoreIsBounded(t *testing.T) {
	l := NewLexicon()
	text := ""
	for i := 0; i < 200; i++ {
		text += " fatal deaths crisis"
	}
	if got := l.Compound(text); got < -1 || got > 1 {
		t.Errorf("Compound() = %v, want within [-1,1]", got)
	}
}
