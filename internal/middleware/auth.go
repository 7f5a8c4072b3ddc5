// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/taskhub/internal/access"
	"github.com/hitoshi/taskhub/internal/auth"
	"github.com/hitoshi/taskhub/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// actorContextKey はリクエストコンテキストに認証済み主体を格納するためのキー。
var actorContextKey = contextKey("actor")

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
// auth.TokenIssuer が満たす。
type TokenVerifier interface {
	Verify(token string) (access.Actor, error)
}

// NewAuthMiddleware は Authorization: Bearer ヘッダーのトークンを検証し、
// 認証済み主体をリクエストコンテキストに注入するミドルウェアを返す。
// トークンがない、または無効な場合は401 Unauthorizedを返す。
func NewAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Authentication required"))
				return
			}

			actor, err := verifier.Verify(token)
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "Token expired"
				}
				slog.Debug("token verification failed",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(msg))
				return
			}

			recordActor(r.Context(), actor.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
		})
	}
}

// DenialRecorder は拒否されたアクセスを記録する。metrics.Collector が満たす。
type DenialRecorder interface {
	RecordAccessDenied(strategy string)
}

// RequireRole は指定ロールを持たない主体を403で拒否するミドルウェアを返す。
// NewAuthMiddleware の後に配置する。recorder が nil の場合は記録しない。
func RequireRole(role model.Role, recorder DenialRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Authentication required"))
				return
			}
			if !actor.HasRole(role) {
				if recorder != nil {
					recorder.RecordAccessDenied("ROLE_" + string(role))
				}
				WriteErrorResponse(w, http.StatusForbidden, model.NewRoleRequiredError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken は Authorization ヘッダーからトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ActorFromContext はリクエストコンテキストから認証済み主体を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func ActorFromContext(ctx context.Context) (access.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(access.Actor)
	if !ok || actor.ID == "" {
		return access.Actor{}, false
	}
	return actor, true
}

// ContextWithActor はコンテキストに認証済み主体を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithActor(ctx context.Context, actor access.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}
