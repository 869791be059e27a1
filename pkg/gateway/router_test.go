package gateway

import (
	"context"
	"testing"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/path"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
)

func echoHandler() Handler {
	return HandlerFuncs{
		GetFunc: func(ctx context.Context, id txn.ID, key []value.Value) (value.Value, error) {
			if len(key) == 0 {
				return value.None(), nil
			}
			return key[0], nil
		},
	}
}

func TestRouterResolvesLongestPrefix(t *testing.T) {
	r := NewRouter()
	r.Mount(path.Path{"widgets"}, echoHandler())
	r.Mount(path.Path{"widgets", "special"}, echoHandler())

	h, key, err := r.Resolve(path.Path{"widgets", "special", "42"})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(key) != 1 || key[0] != "42" {
		t.Fatalf("Resolve key = %v, want [42]", key)
	}
	if h == nil {
		t.Fatal("Resolve returned nil handler")
	}
}

func TestRouterResolveUnmountedPathIsNotFound(t *testing.T) {
	r := NewRouter()
	r.Mount(path.Path{"widgets"}, echoHandler())

	_, _, err := r.Resolve(path.Path{"gadgets"})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("Resolve error = %v, want not_found", err)
	}
}

func TestRouterUnmountRemovesHandler(t *testing.T) {
	r := NewRouter()
	r.Mount(path.Path{"widgets"}, echoHandler())
	r.Unmount(path.Path{"widgets"})

	_, _, err := r.Resolve(path.Path{"widgets", "1"})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("Resolve error = %v, want not_found after Unmount", err)
	}
}

func TestRouterMountReplacesExistingPrefix(t *testing.T) {
	r := NewRouter()
	r.Mount(path.Path{"widgets"}, echoHandler())

	calls := 0
	replacement := HandlerFuncs{
		GetFunc: func(ctx context.Context, id txn.ID, key []value.Value) (value.Value, error) {
			calls++
			return value.None(), nil
		},
	}
	r.Mount(path.Path{"widgets"}, replacement)

	h, _, err := r.Resolve(path.Path{"widgets"})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if _, err := h.Get(context.Background(), txn.New(), nil); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (replacement handler not installed)", calls)
	}
}

func TestHandlerFuncsUnsetVerbIsMethodNotAllowed(t *testing.T) {
	h := HandlerFuncs{}
	_, err := h.Get(context.Background(), txn.New(), nil)
	if !apperr.Is(err, apperr.KindMethodNotAllowed) {
		t.Fatalf("Get error = %v, want method_not_allowed", err)
	}
	if err := h.Put(context.Background(), txn.New(), nil, value.None()); !apperr.Is(err, apperr.KindMethodNotAllowed) {
		t.Fatalf("Put error = %v, want method_not_allowed", err)
	}
	if _, err := h.Post(context.Background(), txn.New(), nil); !apperr.Is(err, apperr.KindMethodNotAllowed) {
		t.Fatalf("Post error = %v, want method_not_allowed", err)
	}
	if err := h.Delete(context.Background(), txn.New(), nil); !apperr.Is(err, apperr.KindMethodNotAllowed) {
		t.Fatalf("Delete error = %v, want method_not_allowed", err)
	}
}
