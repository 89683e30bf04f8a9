package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tablepay/api/internal/auth"
	"github.com/tablepay/api/internal/middleware"
)

const testJWTSecret = "test-secret-for-handlers"

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// routes is what each handler contributes to the test router.
type routes struct {
	public  func(chi.Router)
	kitchen func(chi.Router)
	waiter  func(chi.Router)
}

// newTestRouter mounts routes the way the server does: public under /api,
// staff under /api/restaurants/{rid} behind auth.
func newTestRouter(rt routes) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		if rt.public != nil {
			rt.public(r)
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(testJWTSecret))
			r.Route("/restaurants/{rid}", func(r chi.Router) {
				r.Use(middleware.RequireRestaurant)
				if rt.kitchen != nil {
					rt.kitchen(r)
				}
				if rt.waiter != nil {
					rt.waiter(r)
				}
			})
		})
	})
	return r
}

func staffClaims(restaurantID uuid.UUID, role string) *auth.Claims {
	return &auth.Claims{UserID: uuid.New(), RestaurantID: restaurantID, Role: role}
}

// doRequest sends body as JSON. claims may be nil for public routes.
func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}, claims *auth.Claims) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	if claims != nil {
		token, err := auth.GenerateToken(testJWTSecret, claims.UserID, claims.RestaurantID, claims.Role, time.Hour)
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func doRaw(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v; body: %s", err, rr.Body.String())
	}
	return resp
}

func bigInt(v int64) *big.Int { return big.NewInt(v) }
