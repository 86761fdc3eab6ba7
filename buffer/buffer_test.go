package buffer_test

import (
	"testing"

	"github.com/llnl/ygm/buffer"
	"github.com/llnl/ygm/internal/tassert"
)

func TestPushBytesGrowsAndPreservesContent(t *testing.T) {
	b := buffer.New(0)
	defer b.Free()

	b.PushBytes([]byte("hello"))
	b.PushBytes([]byte(" world"))
	tassert.Fatal(t, string(b.Data()) == "hello world", "got", string(b.Data()))
	tassert.Fatal(t, b.Len() == len("hello world"), "len mismatch")
	tassert.Fatal(t, b.Cap() > 0 && b.Cap()%4096 == 0, "capacity must be page-aligned, got", b.Cap())
}

func TestClearKeepsCapacity(t *testing.T) {
	b := buffer.New(0)
	defer b.Free()

	b.PushBytes(make([]byte, 8192))
	cap0 := b.Cap()
	b.Clear()
	tassert.Fatal(t, b.Empty(), "want empty after Clear")
	tassert.Fatal(t, b.Cap() == cap0, "Clear must not shrink capacity")
}

func TestPatchUint32(t *testing.T) {
	b := buffer.New(0)
	defer b.Free()

	b.PushBytes(make([]byte, 8))
	b.PatchUint32(4, 0xdeadbeef)
	tassert.Fatal(t, b.Data()[4] == 0xef && b.Data()[7] == 0xde, "little-endian patch mismatch")
}

func TestSwap(t *testing.T) {
	a := buffer.New(0)
	b := buffer.New(0)
	defer a.Free()
	defer b.Free()

	a.PushBytes([]byte("a-content"))
	a.Swap(b)
	tassert.Fatal(t, b.Len() == len("a-content"), "want swapped content in b")
	tassert.Fatal(t, a.Empty(), "want a empty after swap with a fresh buffer")
}

func TestPoolRecyclesUpToCapacity(t *testing.T) {
	p := buffer.NewPool(1)
	b1 := p.Get()
	b1.PushBytes([]byte("x"))
	p.Put(b1)
	tassert.Fatal(t, p.Len() == 1, "want 1 buffer recycled, got", p.Len())

	b2 := p.Get()
	tassert.Fatal(t, b2.Empty(), "recycled buffer must come back cleared")
	p.Put(b2)

	b3 := buffer.New(0)
	p.Put(b3) // pool at capacity already (b2 occupies the one slot)
	tassert.Fatal(t, p.Len() == 1, "pool must not exceed its capacity, got", p.Len())
}
