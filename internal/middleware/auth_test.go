package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetUserIDFromContext(r.Context())
		if !ok {
			t.Fatalf("user id not in context")
		}
		if id != 42 {
			t.Fatalf("user id from context = %d, want 42", id)
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.SetAuthCookie(w, 42)
	res := w.Result()
	resCookies := res.Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}

	r.AddCookie(resCookies[0])

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}


func TestOptionalMiddleware_GuestPassesThrough(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		if _, ok := GetUserIDFromContext(r.Context()); ok {
			t.Fatalf("guest request must not carry a user id")
		}
	})

	r := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	m.OptionalMiddleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called for guest")
	}
}

func TestOptionalMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	w := httptest.NewRecorder()
	m.SetAuthCookie(w, 7)
	cookie := w.Result().Cookies()[0]

	var gotID int64
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetUserIDFromContext(r.Context())
		if !ok {
			t.Fatalf("user id not in context")
		}
		gotID = id
	})

	r := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	r.AddCookie(cookie)
	m.OptionalMiddleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if gotID != 7 {
		t.Fatalf("user id = %d, want 7", gotID)
	}
}

func TestAdminMiddleware(t *testing.T) {
	m := NewAdminMiddleware("operator-key")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodPost, "/api/admin/orders/1/sync", nil)
	w := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(w, r)
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without key = %d, want 401", w.Result().StatusCode)
	}

	r = httptest.NewRequest(http.MethodPost, "/api/admin/orders/1/sync", nil)
	r.Header.Set("X-Admin-Key", "wrong")
	w = httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(w, r)
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status with wrong key = %d, want 401", w.Result().StatusCode)
	}

	r = httptest.NewRequest(http.MethodPost, "/api/admin/orders/1/sync", nil)
	r.Header.Set("X-Admin-Key", "operator-key")
	w = httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(w, r)
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status with correct key = %d, want 200", w.Result().StatusCode)
	}
}

func TestAdminMiddleware_DisabledWithoutKey(t *testing.T) {
	m := NewAdminMiddleware("")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	r := httptest.NewRequest(http.MethodPost, "/api/admin/orders/1/sync", nil)
	r.Header.Set("X-Admin-Key", "")
	w := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(w, r)
	if w.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Result().StatusCode)
	}
}
