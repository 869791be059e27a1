package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/log"
	"github.com/cuemby/datahost/pkg/metrics"
	"github.com/cuemby/datahost/pkg/path"
	"github.com/cuemby/datahost/pkg/txn"
)

// callBudget bounds an inter-host replication call: a replica call gets
// whatever is left of the budget once the owner's own processing time,
// measured from the TxnId's mint instant, is subtracted.
const callBudget = 5 * time.Second

// Request is one replicated mutation: a PUT to apply a write, or a DELETE
// to converge a replica set after a quorum failure.
type Request struct {
	Method string
	Path   path.Path
	Params map[string]any
}

// Replicator sends req to link and reports whether it succeeded. The real
// implementation speaks the self-describing JSON wire protocol over
// net/http; tests use a fake that never touches the network.
type Replicator interface {
	Do(ctx context.Context, link path.Link, req Request) error
}

// httpReplicator is the production Replicator: it sends the request to the
// replica's host under req.Method, mirroring the JSON body format
// pkg/gateway's handlers decode on the receiving end.
type httpReplicator struct {
	client *http.Client
}

// NewHTTPReplicator builds a Replicator that issues real HTTP calls.
func NewHTTPReplicator(client *http.Client) Replicator {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpReplicator{client: client}
}

func (r *httpReplicator) Do(ctx context.Context, link path.Link, req Request) error {
	body, err := json.Marshal(req.Params)
	if err != nil {
		return apperr.Internal("encoding replication request: %v", err)
	}

	url := fmt.Sprintf("http://%s%s", link.Host, link.Path.Append(req.Path...).String())
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bytes.NewReader(body))
	if err != nil {
		return apperr.Internal("building replication request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return apperr.Wrap(apperr.KindTimeout, err, "replicating to %s", link)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return apperr.Conflict("replica %s reported a write conflict", link)
	}
	if resp.StatusCode >= 300 {
		return apperr.Internal("replica %s returned status %d", link, resp.StatusCode)
	}
	return nil
}

// replicaDeadline derives the remaining budget for an inter-host call from
// id's age. A transaction already past budget gets a context that is
// immediately expired, so the call fails fast instead of hanging.
func replicaDeadline(ctx context.Context, id txn.ID) (context.Context, context.CancelFunc) {
	remaining := callBudget - id.Age()
	if remaining < 0 {
		remaining = 0
	}
	return context.WithTimeout(ctx, remaining)
}

// ReplicateWrite fans a write out to the cluster's replicas. The owner has
// already applied the write locally before calling this; every replica
// receives it in parallel, a Conflict response is fatal and aborts
// immediately, any other failures accumulate up to floor(N/2), and on
// success the failed replicas are dropped from the set by a convergence
// DELETE to every replica that did succeed.
func (c *Cluster) ReplicateWrite(ctx context.Context, id txn.ID, req Request) error {
	replicas, err := c.Replicas(ctx)
	if err != nil {
		return err
	}
	if len(replicas) == 0 {
		return nil
	}
	maxFailures := len(replicas) / 2
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReplicationFanoutDuration)

	type outcome struct {
		link path.Link
		err  error
	}
	results := make(chan outcome, len(replicas))
	callCtx, cancel := replicaDeadline(ctx, id)
	defer cancel()

	for _, r := range replicas {
		r := r
		go func() {
			results <- outcome{link: r, err: c.transport.Do(callCtx, r, req)}
		}()
	}

	var failed, succeeded []path.Link
	var lastErr error
	for i := 0; i < len(replicas); i++ {
		out := <-results
		switch {
		case out.err == nil:
			succeeded = append(succeeded, out.link)
		case apperr.Is(out.err, apperr.KindConflict):
			// Fatal: the remaining in-flight calls are left to finish against
			// callCtx and their outcomes discarded; the buffered channel
			// means none of those goroutines block forever.
			metrics.ReplicationOutcomesTotal.WithLabelValues("conflict").Inc()
			clusterLog := log.WithCluster(c.link.String())
			clusterLog.Warn().
				Str("txn_id", id.String()).
				Str("replica", out.link.String()).
				Msg("replica reported a write conflict, aborting")
			return out.err
		default:
			failed = append(failed, out.link)
			lastErr = out.err
		}
	}

	if len(failed) > maxFailures {
		metrics.ReplicationOutcomesTotal.WithLabelValues("quorum_failed").Inc()
		clusterLog := log.WithCluster(c.link.String())
		clusterLog.Error().
			Str("txn_id", id.String()).
			Int("failed", len(failed)).
			Int("replicas", len(replicas)).
			Msg("replication quorum failed")
		// The write quorum failed; the most recent replica error is the
		// result, whatever its kind.
		return lastErr
	}

	metrics.ReplicationOutcomesTotal.WithLabelValues("quorum").Inc()
	if len(failed) > 0 {
		c.convergeReplicas(ctx, id, succeeded, failed)
	}
	return nil
}

// convergeReplicas asks every replica that did succeed to drop the ones
// that didn't, so the replica set's membership stays consistent with who
// actually has the data. Convergence failures are not fatal to the write
// that already succeeded; they self-heal on the next write.
func (c *Cluster) convergeReplicas(ctx context.Context, id txn.ID, succeeded, failed []path.Link) {
	links := make([]string, len(failed))
	for i, f := range failed {
		links[i] = f.String()
	}
	clusterLog := log.WithCluster(c.link.String())
	clusterLog.Warn().
		Str("txn_id", id.String()).
		Strs("quarantined", links).
		Msg("dropping failed replicas from the set")
	req := Request{Method: http.MethodDelete, Path: path.Path{"replicas"}, Params: map[string]any{"links": links}}
	for _, s := range succeeded {
		_ = c.transport.Do(ctx, s, req)
	}

	for _, f := range failed {
		_ = c.RemoveReplica(ctx, f)
	}
}
