package bundle_test

import (
	"testing"

	"github.com/llnl/ygm/internal/tassert"
	"github.com/llnl/ygm/lambda"
	"github.com/llnl/ygm/layout"
	"github.com/llnl/ygm/router"
	"github.com/llnl/ygm/substrate"
	"github.com/llnl/ygm/transport/bundle"
)

func newTestRouter(t *testing.T, rank, size int) *router.Router {
	t.Helper()
	l, err := layout.Uniform(rank, size, 1)
	tassert.CheckFatal(t, err)
	return router.New(l, router.None)
}

func TestAggregatorNoFlushBelowCapacity(t *testing.T) {
	r := newTestRouter(t, 0, 2)
	var sock *substrate.Socket // intentionally nil: capacity stays under args.Size, so PostSend is never reached

	a := bundle.NewAggregator(sock, r, 2, bundle.Args{
		Size:        1 << 20,
		FreeListCap: 4,
		Routing:     router.None,
	})

	a.Enqueue(1, lambda.Tag(3), nil, nil, []byte("hello"))
	if got := a.QueuedBytes(); got == 0 {
		t.Fatalf("expected queued bytes after enqueue, got %d", got)
	}
	if a.PendingSends() != 0 {
		t.Fatalf("expected no in-flight sends below capacity, got %d", a.PendingSends())
	}
}
