package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/auth"
	"github.com/cuemby/datahost/pkg/metrics"
	"github.com/cuemby/datahost/pkg/path"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
)

// Server answers the wire protocol over net/http: process headers, route,
// dispatch, encode.
type Server struct {
	router   *Router
	issuer   *auth.Issuer
	readOnly bool

	http *http.Server
}

// NewServer builds a Server dispatching through router. When readOnly is
// true the server rejects every verb but GET and POST; the local
// Unix-socket listener runs in this mode.
func NewServer(router *Router, issuer *auth.Issuer, readOnly bool) *Server {
	s := &Server{router: router, issuer: issuer, readOnly: readOnly}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metrics.Handler().ServeHTTP)
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.HandleFunc("/", s.handle)

	s.http = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Serve starts accepting connections on listener and blocks until it
// closes or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()

	err := s.http.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	status := http.StatusOK

	defer func() {
		timer.ObserveDurationVec(metrics.RequestDuration, r.Method)
		metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
	}()

	if s.readOnly && r.Method != http.MethodGet && r.Method != http.MethodPost {
		status = writeError(w, apperr.Forbidden("write operations are not allowed on this listener"))
		return
	}

	p, id, err := s.processHeaders(r)
	if err != nil {
		status = writeError(w, err)
		return
	}

	handler, key, err := s.router.Resolve(p)
	if err != nil {
		status = writeError(w, err)
		return
	}

	result, err := s.route(r, handler, id, key)
	if err != nil {
		status = writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if err := enc.Encode(result); err != nil {
		status = writeError(w, apperr.Internal("encoding response: %v", err))
		return
	}
	_, _ = w.Write([]byte("\n"))
}

// processHeaders resolves the request path, mints or parses the TxnId, and
// validates the bearer token. There is no Accept-Encoding negotiation:
// this server only ever speaks the one self-describing JSON encoding, so
// there is nothing to negotiate down to.
func (s *Server) processHeaders(r *http.Request) (path.Path, txn.ID, error) {
	p, err := path.Parse(r.URL.Path)
	if err != nil {
		return nil, txn.ID{}, apperr.BadRequest("invalid path: %v", err)
	}

	id := txn.New()
	if raw := r.URL.Query().Get("txn_id"); raw != "" {
		id, err = txn.Parse(raw)
		if err != nil {
			return nil, txn.ID{}, apperr.BadRequest("invalid txn_id: %v", err)
		}
	}

	if s.issuer != nil {
		if _, err := s.authorize(r); err != nil {
			return nil, txn.ID{}, err
		}
	}

	return p, id, nil
}

func (s *Server) authorize(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", apperr.Unauthorized("missing Authorization header")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", apperr.Unauthorized("Authorization header must use the Bearer scheme")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	_, scope, err := s.issuer.Validate(token)
	if err != nil {
		return "", err
	}
	return scope, nil
}

func (s *Server) route(r *http.Request, h Handler, id txn.ID, key path.Path) (value.Value, error) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		return h.Get(ctx, id, keyValues(key))

	case http.MethodPut:
		val, err := decodeBody(r.Body)
		if err != nil {
			return value.Value{}, err
		}
		return value.Value{}, h.Put(ctx, id, keyValues(key), val)

	case http.MethodPost:
		params, err := decodeParams(r.Body)
		if err != nil {
			return value.Value{}, err
		}
		return h.Post(ctx, id, params)

	case http.MethodDelete:
		return value.Value{}, h.Delete(ctx, id, keyValues(key))

	default:
		return value.Value{}, apperr.MethodNotAllowed("%s is not a supported method", r.Method)
	}
}

// keyValues turns a path's remaining segments into a row key: each segment
// is a string-valued Value, matching the wire protocol's plain-identifier
// keys.
func keyValues(p path.Path) []value.Value {
	if len(p) == 0 {
		return nil
	}
	out := make([]value.Value, len(p))
	for i, seg := range p {
		out[i] = value.String(seg)
	}
	return out
}

func decodeBody(r io.Reader) (value.Value, error) {
	var v value.Value
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		if err == io.EOF {
			return value.None(), nil
		}
		return value.Value{}, apperr.BadRequest("error deserializing request body: %v", err)
	}
	return v, nil
}

func decodeParams(r io.Reader) (map[string]value.Value, error) {
	var params map[string]value.Value
	if err := json.NewDecoder(r).Decode(&params); err != nil {
		if err == io.EOF {
			return map[string]value.Value{}, nil
		}
		return nil, apperr.BadRequest("error deserializing request parameters: %v", err)
	}
	return params, nil
}

// writeError renders err with its canonical status code;
// apperr.StatusCode carries the whole mapping, so there is no switch to
// duplicate here.
func writeError(w http.ResponseWriter, err error) int {
	code := apperr.StatusCode(apperr.KindOf(err))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(err.Error() + "\n"))
	return code
}
