// Package topic は重み付きキーワード一致による記事のトピック分類を行う。
package topic

import (
	"strings"
	"sync"
	"unicode"

	ahocorasick "github.com/cloudflare/ahocorasick"
)

// 項目ごとの重み。タイトルが最も強い。
const (
	TitleWeight   = 1.0
	SummaryWeight = 0.6
	TextWeight    = 0.3
)

// DefaultMinConfidence は general に落とす信頼度の下限。
const DefaultMinConfidence = 0.2

// Result はトピック分類の結果。
type Result struct {
	Category   string
	Confidence float64
}

type keywordRef struct {
	category int
	weight   float64
}

// Classifier はカテゴリのキーワードをAho-Corasickオートマトンで照合する。
// 複数ゴルーチンから共有できる。
type Classifier struct {
	categories    []Category
	maxScores     []float64
	minConfidence float64

	// Matcher.Match は内部状態を更新するため排他する。
	mu       sync.Mutex
	matcher  *ahocorasick.Matcher
	keywords []string       // 照合用に正規化・空白で囲んだキーワード
	refs     [][]keywordRef // keywords と同じ添字
}

// NewClassifier はClassifierを生成する。categoriesの順序が同点時の優先順になる。
func NewClassifier(categories []Category, minConfidence float64) *Classifier {
	c := &Classifier{
		categories:    categories,
		maxScores:     make([]float64, len(categories)),
		minConfidence: minConfidence,
	}

	index := make(map[string]int)
	for ci, cat := range categories {
		for _, kw := range cat.Keywords {
			term := normalizeText(kw.Term)
			if term == "  " || kw.Weight <= 0 {
				continue
			}
			c.maxScores[ci] += kw.Weight * TitleWeight

			i, ok := index[term]
			if !ok {
				i = len(c.keywords)
				index[term] = i
				c.keywords = append(c.keywords, term)
				c.refs = append(c.refs, nil)
			}
			c.refs[i] = append(c.refs[i], keywordRef{category: ci, weight: kw.Weight})
		}
	}
	if len(c.keywords) > 0 {
		c.matcher = ahocorasick.NewStringMatcher(c.keywords)
	}
	return c
}

// NewDefaultClassifier は既定カテゴリでClassifierを生成する。
func NewDefaultClassifier(minConfidence float64) *Classifier {
	return NewClassifier(DefaultCategories(), minConfidence)
}

// Classify はタイトル・要約・本文（省略可）からカテゴリを決める。
// 各キーワードは出現した項目のうち最も重い項目の重みで加点し、
// カテゴリの最大得点で割って0〜1の信頼度にする。
func (c *Classifier) Classify(title, summary, fullText string) Result {
	if c.matcher == nil {
		return Result{Category: General}
	}

	// キーワードごとに一致した項目の最大重み
	best := make([]float64, len(c.keywords))
	for _, field := range []struct {
		text   string
		weight float64
	}{
		{title, TitleWeight},
		{summary, SummaryWeight},
		{fullText, TextWeight},
	} {
		if strings.TrimSpace(field.text) == "" {
			continue
		}
		for _, hit := range c.match(field.text) {
			if field.weight > best[hit] {
				best[hit] = field.weight
			}
		}
	}

	scores := make([]float64, len(c.categories))
	for hit, fieldWeight := range best {
		if fieldWeight == 0 {
			continue
		}
		for _, ref := range c.refs[hit] {
			scores[ref.category] += ref.weight * fieldWeight
		}
	}

	top, topScore := -1, 0.0
	for i := range c.categories {
		if c.maxScores[i] == 0 {
			continue
		}
		conf := scores[i] / c.maxScores[i]
		if conf > topScore {
			top, topScore = i, conf
		}
	}

	if top < 0 || topScore < c.minConfidence {
		return Result{Category: General, Confidence: topScore}
	}
	return Result{Category: c.categories[top].Name, Confidence: topScore}
}

func (c *Classifier) match(text string) []int {
	normalized := []byte(normalizeText(text))
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matcher.Match(normalized)
}

// normalizeText は小文字の英数字トークンを1つの空白で区切り、前後を空白で囲む。
// 前後の空白により語境界での一致のみを拾う。
func normalizeText(text string) string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(tokens, " ") + " "
}
