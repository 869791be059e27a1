package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/datahost/pkg/auth"
	"github.com/cuemby/datahost/pkg/path"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	store := map[string]value.Value{}

	r := NewRouter()
	r.Mount(path.Path{"widgets"}, HandlerFuncs{
		GetFunc: func(ctx context.Context, id txn.ID, key []value.Value) (value.Value, error) {
			if len(key) == 0 {
				return value.None(), nil
			}
			v, ok := store[key[0].String()]
			if !ok {
				return value.None(), nil
			}
			return v, nil
		},
		PutFunc: func(ctx context.Context, id txn.ID, key []value.Value, val value.Value) error {
			store[key[0].String()] = val
			return nil
		},
		PostFunc: func(ctx context.Context, id txn.ID, params map[string]value.Value) (value.Value, error) {
			return value.String("ok"), nil
		},
		DeleteFunc: func(ctx context.Context, id txn.ID, key []value.Value) error {
			delete(store, key[0].String())
			return nil
		},
	})
	return r
}

func TestServerGetMissingKeyReturnsNone(t *testing.T) {
	srv := NewServer(newTestRouter(t), nil, false)
	req := httptest.NewRequest(http.MethodGet, "/widgets/1", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var v value.Value
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestServerPutThenGetRoundTrips(t *testing.T) {
	router := newTestRouter(t)
	srv := NewServer(router, nil, false)

	body, _ := json.Marshal(value.Int64(7))
	putReq := httptest.NewRequest(http.MethodPut, "/widgets/1", bytes.NewReader(body))
	putRec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(putRec, putReq)
	if putRec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200, body=%s", putRec.Code, putRec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/widgets/1", nil)
	getRec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(getRec, getReq)

	var v value.Value
	if err := json.NewDecoder(getRec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if v.Kind() != value.KindInt64 {
		t.Fatalf("got kind %v, want int64", v.Kind())
	}
}

func TestServerUnknownPathReturnsNotFound(t *testing.T) {
	srv := NewServer(newTestRouter(t), nil, false)
	req := httptest.NewRequest(http.MethodGet, "/gadgets/1", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestServerMissingBearerTokenIsUnauthorized(t *testing.T) {
	issuer := auth.NewIssuer(time.Minute)
	srv := NewServer(newTestRouter(t), issuer, false)

	req := httptest.NewRequest(http.MethodGet, "/widgets/1", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestServerValidBearerTokenIsAuthorized(t *testing.T) {
	issuer := auth.NewIssuer(time.Minute)
	actor := path.NewLink(path.Path{"users", "alice"})
	token, err := issuer.Issue(actor, "read")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	srv := NewServer(newTestRouter(t), issuer, false)
	req := httptest.NewRequest(http.MethodGet, "/widgets/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestServerReadOnlyListenerRejectsPut(t *testing.T) {
	srv := NewServer(newTestRouter(t), nil, true)
	req := httptest.NewRequest(http.MethodPut, "/widgets/1", bytes.NewReader([]byte(`{"kind":"int64","value":1}`)))
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestServerReadOnlyListenerAllowsGet(t *testing.T) {
	srv := NewServer(newTestRouter(t), nil, true)
	req := httptest.NewRequest(http.MethodGet, "/widgets/1", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestServerPostInvokesOperation(t *testing.T) {
	srv := NewServer(newTestRouter(t), nil, false)
	req := httptest.NewRequest(http.MethodPost, "/widgets/1", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestServerInvalidTxnIDIsBadRequest(t *testing.T) {
	srv := NewServer(newTestRouter(t), nil, false)
	req := httptest.NewRequest(http.MethodGet, "/widgets/1?txn_id=not-a-valid-id", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
