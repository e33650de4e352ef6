package auth0

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPClient_GetUserInfo(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/userinfo" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"auth0|abc","email":"ana@example.com","email_verified":true,"name":"Ana"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(strings.TrimPrefix(srv.URL, "https://"))
	c.httpClient = srv.Client()

	info, err := c.GetUserInfo(context.Background(), "good-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Sub != "auth0|abc" || info.Email != "ana@example.com" || info.Name != "Ana" {
		t.Errorf("unexpected user info: %+v", info)
	}

	_, err = c.GetUserInfo(context.Background(), "bad-token")
	if !errors.Is(err, ErrUserInfoFailed) {
		t.Errorf("expected ErrUserInfoFailed, got %v", err)
	}
}

func TestFakeClient(t *testing.T) {
	c := NewFakeClient()
	c.AddUser("tok", &UserInfo{Sub: "auth0|1", Email: "a@example.com"})

	info, err := c.GetUserInfo(context.Background(), "tok")
	if err != nil || info.Email != "a@example.com" {
		t.Fatalf("unexpected result: %+v, %v", info, err)
	}
	if _, err := c.GetUserInfo(context.Background(), "other"); !errors.Is(err, ErrUserInfoFailed) {
		t.Errorf("expected ErrUserInfoFailed, got %v", err)
	}
}
