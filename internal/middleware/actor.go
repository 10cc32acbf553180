// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"strings"
	"unicode"
)

// ActorHeader は監査ログに記録する操作者を指定するヘッダー。
const ActorHeader = "X-Actor"

// DefaultActor はヘッダー未指定時の操作者。
const DefaultActor = "api"

const maxActorLength = 64

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// actorContextKey はリクエストコンテキストに操作者を格納するためのキー。
var actorContextKey = contextKey("actor")

// NewActorMiddleware は X-Actor ヘッダーから操作者を読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// 制御文字を除去し、64文字を超える部分は切り捨てる。
func NewActorMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := sanitizeActor(r.Header.Get(ActorHeader))
			ctx := context.WithValue(r.Context(), actorContextKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext はコンテキストから操作者を取得する。
// 未設定の場合は DefaultActor を返す。
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorContextKey).(string); ok && actor != "" {
		return actor
	}
	return DefaultActor
}

func sanitizeActor(v string) string {
	v = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, v))
	if v == "" {
		return DefaultActor
	}
	if runes := []rune(v); len(runes) > maxActorLength {
		v = string(runes[:maxActorLength])
	}
	return v
}
