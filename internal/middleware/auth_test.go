package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"marketplace/internal/middleware"
	"marketplace/models"
)

func TestAuth(t *testing.T) {
	var got models.Actor
	h := middleware.Auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := middleware.ActorFromContext(r.Context())
		require.True(t, ok)
		got = actor
		w.WriteHeader(http.StatusNoContent)
	}))

	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/risk/me", nil)
	req.Header.Set(middleware.HeaderUserID, id.String())
	req.Header.Set(middleware.HeaderUserRole, "Pro")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, models.Actor{ID: id, Role: models.RolePro}, got)

	for _, headers := range []map[string]string{
		{},
		{middleware.HeaderUserID: "not-a-uuid", middleware.HeaderUserRole: "client"},
		{middleware.HeaderUserID: id.String()},
		{middleware.HeaderUserID: id.String(), middleware.HeaderUserRole: "system"},
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/risk/me", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, http.StatusUnauthorized, rr.Code, headers)
	}
}
