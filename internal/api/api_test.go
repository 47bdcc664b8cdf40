package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/starford/contactlink/internal/apperr"
	"github.com/starford/contactlink/internal/identity"
	"github.com/starford/contactlink/internal/models"
	"github.com/starford/contactlink/internal/store"
	"github.com/starford/contactlink/internal/testutil"
)

// testEnv sets up a temp SQLite store, engine, and router for testing.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) http.Handler {
	t.Helper()
	st := testutil.TestStore(t, store.WithNow(tickingClock()))
	return NewRouter(identity.NewEngine(st), authToken != "", authToken, nil)
}

func tickingClock() func() time.Time {
	now := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIdentifyFlow(t *testing.T) {
	router := testEnv(t, "")
	g := golden(t)

	steps := []struct {
		name string
		body string
	}{
		{"identify_new_primary", `{"email":"lorraine@hillvalley.edu","phoneNumber":"123456"}`},
		{"identify_new_secondary", `{"email":"mcfly@hillvalley.edu","phoneNumber":"123456"}`},
		{"identify_by_phone_only", `{"email":null,"phoneNumber":"123456"}`},
		{"identify_george", `{"email":"george@hillvalley.edu","phoneNumber":"919191"}`},
		{"identify_biff", `{"email":"biffsucks@hillvalley.edu","phoneNumber":"717171"}`},
		{"identify_merge", `{"email":"george@hillvalley.edu","phoneNumber":"717171"}`},
	}
	for _, s := range steps {
		w := do(t, router, http.MethodPost, "/identify", s.body)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body = %s", s.name, w.Code, w.Body.String())
		}
		g.Assert(t, s.name, w.Body.Bytes())
	}
}

func TestIdentify_PhoneNumberAsNumber(t *testing.T) {
	router := testEnv(t, "")

	first := do(t, router, http.MethodPost, "/identify", `{"phoneNumber":123456}`)
	second := do(t, router, http.MethodPost, "/identify", `{"phoneNumber":"123456"}`)

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("status = %d / %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("numeric and string phone differ:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if !strings.Contains(first.Body.String(), `"phoneNumbers":["123456"]`) {
		t.Errorf("body = %s", first.Body.String())
	}
}

func TestIdentify_BadRequests(t *testing.T) {
	router := testEnv(t, "")
	g := golden(t)

	for _, tc := range []struct {
		name string
		body string
	}{
		{"identify_missing_fields", `{}`},
		{"identify_empty_fields", `{"email":"","phoneNumber":""}`},
		{"identify_null_fields", `{"email":null,"phoneNumber":null}`},
		{"identify_malformed_json", `{"email":`},
		{"identify_bool_phone", `{"phoneNumber":true}`},
		{"identify_trailing_data", `{"email":"a@x.com"} {}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/identify", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			g.Assert(t, tc.name, w.Body.Bytes())
		})
	}
}

func TestIdentify_EmptyBody(t *testing.T) {
	router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/identify", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), msgRequired) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestIdentify_FieldTooLong(t *testing.T) {
	router := testEnv(t, "")

	body := `{"email":"` + strings.Repeat("a", maxEmailLength+1) + `"}`
	w := do(t, router, http.MethodPost, "/identify", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "email") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestIdentify_BodyTooLarge(t *testing.T) {
	router := testEnv(t, "")

	body := `{"email":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	w := do(t, router, http.MethodPost, "/identify", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

type stubEngine struct {
	err error
}

func (s stubEngine) Identify(context.Context, identity.Request) (*models.ConsolidatedIdentity, error) {
	return nil, s.err
}

func (s stubEngine) Cluster(context.Context, int64) (*models.ConsolidatedIdentity, error) {
	return nil, s.err
}

func TestIdentify_EngineFailures(t *testing.T) {
	g := golden(t)

	for _, tc := range []struct {
		name   string
		err    error
		status int
	}{
		{"identify_unavailable", errors.Join(apperr.ErrStoreUnavailable, context.DeadlineExceeded), http.StatusServiceUnavailable},
		{"identify_internal_error", errors.New("boom"), http.StatusInternalServerError},
	} {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(stubEngine{err: tc.err}, false, "", nil)
			w := do(t, router, http.MethodPost, "/identify", `{"email":"a@x.com"}`)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			g.Assert(t, tc.name, w.Body.Bytes())
		})
	}
}

func TestGetContact(t *testing.T) {
	router := testEnv(t, "")
	do(t, router, http.MethodPost, "/identify", `{"email":"lorraine@hillvalley.edu","phoneNumber":"123456"}`)
	created := do(t, router, http.MethodPost, "/identify", `{"email":"mcfly@hillvalley.edu","phoneNumber":"123456"}`)

	for _, path := range []string{"/contacts/1", "/contacts/2"} {
		w := do(t, router, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, w.Code)
		}
		if w.Body.String() != created.Body.String() {
			t.Errorf("%s: body = %s, want %s", path, w.Body.String(), created.Body.String())
		}
	}
}

func TestGetContact_NotFound(t *testing.T) {
	router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/contacts/42", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing contact = %d, want 404", w.Code)
	}
}

func TestGetContact_BadID(t *testing.T) {
	router := testEnv(t, "")

	for _, path := range []string{"/contacts/abc", "/contacts/0", "/contacts/-3"} {
		w := do(t, router, http.MethodGet, path, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", path, w.Code)
		}
	}
}

func TestHelpPage(t *testing.T) {
	router := testEnv(t, "secret123")

	w := do(t, router, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("help = %d, want 200 without auth", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "/identify") {
		t.Error("help page should mention /identify")
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	router := testEnv(t, "secret123")

	w := do(t, router, http.MethodPost, "/identify", `{"email":"a@x.com"}`, "Authorization", "Bearer secret123")
	if w.Code != http.StatusOK {
		t.Errorf("authed identify = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	router := testEnv(t, "secret123")

	w := do(t, router, http.MethodPost, "/identify", `{"email":"a@x.com"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	router := testEnv(t, "secret123")

	w := do(t, router, http.MethodGet, "/contacts/1", "", "Authorization", "Bearer wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/identify", `{"email":"a@x.com"}`)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

func sseRouter(authEnabled bool, token string) http.Handler {
	sseHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		<-r.Context().Done()
	})
	return NewRouter(stubEngine{}, authEnabled, token, sseHandler)
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	router := sseRouter(true, "secret")

	w := do(t, router, http.MethodGet, "/events", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	router := sseRouter(true, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	Live(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if w.Code != http.StatusOK {
		t.Errorf("live = %d", w.Code)
	}

	ok := Ready(pingFunc(func(context.Context) error { return nil }))
	w = httptest.NewRecorder()
	ok(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if w.Code != http.StatusOK {
		t.Errorf("ready = %d", w.Code)
	}

	down := Ready(pingFunc(func(context.Context) error { return errors.New("db gone") }))
	w = httptest.NewRecorder()
	down(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with failing store = %d, want 503", w.Code)
	}
}
