package lambda_test

import (
	"testing"

	"github.com/llnl/ygm/internal/tassert"
	"github.com/llnl/ygm/lambda"
	"github.com/llnl/ygm/wire"
)

type fakeCaller struct{ rank int }

func (f fakeCaller) Rank() int { return f.rank }

func TestRegisterAssignsSequentialTags(t *testing.T) {
	r := lambda.NewRegistry()
	t0 := r.Register("a", func(lambda.Caller, *wire.Cursor) error { return nil })
	t1 := r.Register("b", func(lambda.Caller, *wire.Cursor) error { return nil })
	tassert.Fatal(t, t0 == 0 && t1 == 1, "want sequential tags 0,1, got", t0, t1)

	got, ok := r.TagFor("b")
	tassert.Fatal(t, ok && got == t1, "TagFor mismatch")
}

func TestRegisterDuplicateNamePanics(t *testing.T) {
	r := lambda.NewRegistry()
	r.Register("dup", func(lambda.Caller, *wire.Cursor) error { return nil })

	defer func() {
		if recover() == nil {
			t.Fatal("want panic on duplicate registration")
		}
	}()
	r.Register("dup", func(lambda.Caller, *wire.Cursor) error { return nil })
}

func TestDispatchInvokesRegisteredTrampoline(t *testing.T) {
	r := lambda.NewRegistry()
	var seenRank int
	var seenBytes []byte
	tag := r.Register("echo", func(e lambda.Caller, c *wire.Cursor) error {
		seenRank = e.Rank()
		b, err := c.Take(c.Remaining())
		seenBytes = b
		return err
	})

	err := r.Dispatch(tag, fakeCaller{rank: 5}, wire.NewCursor([]byte("payload")))
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, seenRank == 5, "want rank 5, got", seenRank)
	tassert.Fatal(t, string(seenBytes) == "payload", "want payload passed through, got", string(seenBytes))
}

func TestDispatchUnknownTag(t *testing.T) {
	r := lambda.NewRegistry()
	err := r.Dispatch(99, fakeCaller{}, wire.NewCursor(nil))
	tassert.Fatal(t, err != nil, "want error dispatching an unregistered tag")
}

func TestFingerprintStableForSameRegistrationOrder(t *testing.T) {
	build := func() *lambda.Registry {
		r := lambda.NewRegistry()
		r.Register("one", func(lambda.Caller, *wire.Cursor) error { return nil })
		r.Register("two", func(lambda.Caller, *wire.Cursor) error { return nil })
		return r
	}
	a, b := build(), build()
	tassert.Fatal(t, a.Fingerprint() == b.Fingerprint(), "want identical fingerprints for identical registration order")

	c := lambda.NewRegistry()
	c.Register("two", func(lambda.Caller, *wire.Cursor) error { return nil })
	c.Register("one", func(lambda.Caller, *wire.Cursor) error { return nil })
	tassert.Fatal(t, a.Fingerprint() != c.Fingerprint(), "want different fingerprint for different registration order")
}
