// Package middleware содержит HTTP-обёртки сервиса.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"marketplace/models"
)

type contextKey string

const actorContextKey contextKey = "actor"

// Заголовки выставляет шлюз, который уже проверил пользователя
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Auth кладёт участника из заголовков в контекст; без них запрос получает 401
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(strings.TrimSpace(r.Header.Get(HeaderUserID)))
		if err != nil || id == uuid.Nil {
			unauthorized(w)
			return
		}
		role := models.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))))
		if role != models.RoleClient && role != models.RolePro {
			unauthorized(w)
			return
		}
		ctx := WithActor(r.Context(), models.Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","message":"missing or invalid user headers"}`))
}

func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// ActorFromContext возвращает участника запроса и признак его наличия
func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(models.Actor)
	return actor, ok
}
