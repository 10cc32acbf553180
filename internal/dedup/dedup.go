// Package dedup は記事本文の正規化とコンテンツハッシュによる重複排除を行う。
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/hitoshi/medpulse/internal/model"
)

// ArticleStore は重複排除に必要な記事ストアの操作。
type ArticleStore interface {
	ExistsByHash(ctx context.Context, sourceID, contentHash string, scope model.DedupScope) (bool, error)
	InsertIfAbsent(ctx context.Context, article *model.Article, scope model.DedupScope) (bool, error)
}

// Normalize は本文をハッシュ計算用に正規化する。
// NFKC正規化の後、連続する空白文字を1つの半角スペースにまとめ、前後の空白を除去する。
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	return strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
}

// Hash は正規化済み本文のSHA-256を16進文字列で返す。
func Hash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// WordCount は正規化済み本文の語数を返す。
func WordCount(normalized string) int {
	if normalized == "" {
		return 0
	}
	return strings.Count(normalized, " ") + 1
}

// Deduplicator はスコープ内のcontent_hash一意性を保ちながら記事を登録する。
type Deduplicator struct {
	store ArticleStore
	scope model.DedupScope
}

// New はDeduplicatorを生成する。scopeが空の場合はソース単位とする。
func New(store ArticleStore, scope model.DedupScope) *Deduplicator {
	if scope == "" {
		scope = model.DedupScopeSource
	}
	return &Deduplicator{store: store, scope: scope}
}

// Scope は重複判定のスコープを返す。
func (d *Deduplicator) Scope() model.DedupScope { return d.scope }

// IsDuplicate は正規化済み本文がスコープ内に既に存在するかを返す。
func (d *Deduplicator) IsDuplicate(ctx context.Context, sourceID, normalized string) (bool, error) {
	exists, err := d.store.ExistsByHash(ctx, sourceID, Hash(normalized), d.scope)
	if err != nil {
		return false, fmt.Errorf("failed to check content hash: %w", err)
	}
	return exists, nil
}

// Insert は正規化した本文からハッシュと語数を設定し、重複が無ければ pending で登録する。
// 保存する本文は抽出結果のまま変更しない。
// 重複していた場合は記事を作成せず DuplicateContentError を返す。
// 判定と挿入はストア側でアトミックに行う。
func (d *Deduplicator) Insert(ctx context.Context, article *model.Article) error {
	normalized := Normalize(article.Content)
	article.ContentHash = Hash(normalized)
	article.WordCount = WordCount(normalized)
	article.ProcessingStatus = model.ProcessingStatusPending
	if article.ID == "" {
		article.ID = uuid.New().String()
	}
	now := time.Now()
	if article.FetchedAt.IsZero() {
		article.FetchedAt = now
	}
	article.CreatedAt = now
	article.UpdatedAt = now

	inserted, err := d.store.InsertIfAbsent(ctx, article, d.scope)
	if err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}
	if !inserted {
		return &model.DuplicateContentError{
			SourceID:    article.SourceID,
			ContentHash: article.ContentHash,
			URL:         article.URL,
		}
	}
	return nil
}
