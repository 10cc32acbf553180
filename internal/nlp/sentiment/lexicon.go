package sentiment

import (
	"math"
	"strings"
	"unicode"
)

// normalizationAlpha は合計値を[-1,1]に写像する際の定数。
const normalizationAlpha = 15.0

const (
	// negationScalar は否定語の後に現れた語の極性に掛ける係数。
	negationScalar = -0.74
	// negationWindow は否定語が影響する後続語数。
	negationWindow = 3
	// boosterIncrement は強調語・緩和語が直後の語に加減する量。
	boosterIncrement = 0.293
)

// medicalLexicon は医療ニュース向けの極性辞書。値は概ね[-4,4]。
var medicalLexicon = map[string]float64{
	// positive
	"approved":     1.9,
	"approval":     1.8,
	"approves":     1.8,
	"breakthrough": 2.6,
	"cure":         2.8,
	"cured":        2.8,
	"effective":    2.0,
	"effectively":  1.8,
	"efficacy":     1.6,
	"improve":      1.9,
	"improved":     2.0,
	"improvement":  2.0,
	"improves":     1.9,
	"benefit":      1.8,
	"benefits":     1.8,
	"beneficial":   1.9,
	"promising":    2.0,
	"success":      2.4,
	"successful":   2.5,
	"successfully": 2.3,
	"recovery":     1.8,
	"recovered":    1.8,
	"remission":    2.2,
	"survival":     1.5,
	"survive":      1.4,
	"safe":         1.6,
	"safer":        1.6,
	"protect":      1.5,
	"protects":     1.5,
	"protective":   1.4,
	"prevent":      1.2,
	"prevents":     1.2,
	"relief":       1.8,
	"hope":         1.9,
	"hopeful":      1.9,
	"advance":      1.4,
	"advances":     1.4,
	"milestone":    1.6,
	"reduced":      0.8,
	"healthy":      1.7,
	"well":         1.1,
	"positive":     1.6,
	"good":         1.9,
	"better":       1.9,
	"best":         3.2,
	"encouraging":  2.1,
	"welcome":      1.6,

	// negative
	"death":         -2.9,
	"deaths":        -2.9,
	"died":          -2.6,
	"dies":          -2.6,
	"fatal":         -3.0,
	"mortality":     -2.0,
	"outbreak":      -2.1,
	"epidemic":      -2.3,
	"pandemic":      -2.2,
	"risk":          -1.1,
	"risks":         -1.1,
	"risky":         -1.4,
	"adverse":       -1.9,
	"complication":  -1.6,
	"complications": -1.6,
	"toxic":         -2.4,
	"toxicity":      -2.1,
	"recall":        -1.5,
	"recalled":      -1.5,
	"shortage":      -1.7,
	"shortages":     -1.7,
	"failure":       -2.3,
	"failed":        -2.3,
	"fails":         -2.1,
	"ineffective":   -2.0,
	"worse":         -2.1,
	"worsen":        -2.0,
	"worsening":     -2.0,
	"decline":       -1.3,
	"severe":        -1.9,
	"serious":       -1.2,
	"pain":          -1.8,
	"painful":       -2.0,
	"suffering":     -2.4,
	"infection":     -1.4,
	"infections":    -1.4,
	"harm":          -2.2,
	"harmful":       -2.3,
	"danger":        -2.4,
	"dangerous":     -2.6,
	"warning":       -1.4,
	"concern":       -1.1,
	"concerns":      -1.1,
	"lawsuit":       -1.6,
	"fraud":         -2.8,
	"misleading":    -1.9,
	"denied":        -1.5,
	"crisis":        -2.5,
	"bad":           -2.5,
	"negative":      -1.8,
}

// boosters は直後の語の極性を強める語（正）または弱める語（負）。
var boosters = map[string]float64{
	"very":          boosterIncrement,
	"highly":        boosterIncrement,
	"significantly": boosterIncrement,
	"extremely":     boosterIncrement,
	"substantially": boosterIncrement,
	"dramatically":  boosterIncrement,
	"greatly":       boosterIncrement,
	"slightly":      -boosterIncrement,
	"somewhat":      -boosterIncrement,
	"marginally":    -boosterIncrement,
	"modestly":      -boosterIncrement,
	"partially":     -boosterIncrement,
}

var negations = map[string]bool{
	"not":    true, "no": true, "never": true, "without": true, "neither": true, "nor": true,
	"cannot": true, "lack": true, "lacks": true, "lacked": true,
}

// Lexicon は辞書とルールに基づく複合極性スコアを計算する。
type Lexicon struct {
	valence map[string]float64
}

// NewLexicon は医療向け辞書を使うLexiconを生成する。
func NewLexicon() *Lexicon {
	return &Lexicon{valence: medicalLexicon}
}

// NewLexiconWithValence は任意の辞書を使うLexiconを生成する。
func NewLexiconWithValence(valence map[string]float64) *Lexicon {
	return &Lexicon{valence: valence}
}

// Compound はtextの複合スコアを[-1,1]で返す。
// 語ごとの極性に強調語と否定語を反映して合計し、s/sqrt(s²+α) で正規化する。
func (l *Lexicon) Compound(text string) float64 {
	tokens := tokenize(text)

	var sum float64
	negateLeft := 0
	for i, tok := range tokens {
		if isNegation(tok) {
			negateLeft = negationWindow
			continue
		}

		v, ok := l.valence[tok]
		if !ok {
			if negateLeft > 0 {
				negateLeft--
			}
			continue
		}

		if i > 0 {
			if b, ok := boosters[tokens[i-1]]; ok {
				if v > 0 {
					v += b
				} else {
					v -= b
				}
			}
		}
		if negateLeft > 0 {
			v *= negationScalar
			negateLeft = 0
		}
		sum += v
	}

	return normalize(sum)
}

func normalize(score float64) float64 {
	if score == 0 {
		return 0
	}
	n := score / math.Sqrt(score*score+normalizationAlpha)
	return math.Max(-1, math.Min(1, n))
}

func isNegation(tok string) bool {
	return negations[tok] || strings.HasSuffix(tok, "n't")
}

// tokenize は小文字化し、英字とアポストロフィ以外で分割する。
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}
