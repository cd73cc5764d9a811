package ringbuf

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingBuf(t *testing.T) {
	t.Run("supports push/empty/pop", func(t *testing.T) {
		r := require.New(t)

		rb := NewRingBuf[int](8)
		r.True(rb.EmptyP())

		r.True(rb.Push(1))
		r.False(rb.EmptyP())

		v, ok := rb.Pop()
		r.True(ok)

		r.Equal(1, v)
		r.True(rb.EmptyP())

		r.True(rb.Push(2))
		r.False(rb.EmptyP())

		r.Equal(1, rb.Readable())
	})

	t.Run("rounds size up to a power of two", func(t *testing.T) {
		r := require.New(t)

		r.Equal(4, NewRingBuf[int](3).Cap())
		r.Equal(8, NewRingBuf[int](8).Cap())
		r.Equal(1, NewRingBuf[int](0).Cap())
	})

	t.Run("can fill up", func(t *testing.T) {
		r := require.New(t)

		rb := NewRingBuf[int](2)
		r.True(rb.EmptyP())
		r.False(rb.FullP())

		r.True(rb.Push(1))
		r.False(rb.EmptyP())
		r.False(rb.FullP())

		r.True(rb.Push(2))
		r.False(rb.EmptyP())
		r.True(rb.FullP())

		r.False(rb.Push(3))
	})

	t.Run("loops around the ring", func(t *testing.T) {
		r := require.New(t)

		rb := NewRingBuf[int](4)

		r.True(rb.Push(1))
		r.True(rb.Push(2))
		r.True(rb.Push(3))
		r.True(rb.Push(4))
		r.True(rb.FullP())

		_, ok := rb.Pop()
		r.True(ok)

		_, ok = rb.Pop()
		r.True(ok)

		r.False(rb.FullP())
		r.True(rb.Push(5))
		r.True(rb.Push(6))

		r.True(rb.FullP())
		r.Equal(4, rb.Readable())

		r.Equal(uint32(2), rb.ReadSeq())
		r.Equal(uint32(6), rb.WriteSeq())

		for _, want := range []int{3, 4, 5, 6} {
			v, ok := rb.Pop()
			r.True(ok)
			r.Equal(want, v)
		}

		r.True(rb.EmptyP())
	})

	t.Run("peeks by position", func(t *testing.T) {
		r := require.New(t)

		rb := NewRingBuf[int](4)
		rb.Push(10)
		rb.Push(11)
		rb.Push(12)

		v, ok := rb.At(2)
		r.True(ok)
		r.Equal(12, v)

		_, ok = rb.At(3)
		r.False(ok)

		f, ok := rb.Front()
		r.True(ok)
		r.Equal(10, f)
		r.Equal(3, rb.Readable())
	})

	t.Run("hands values across goroutines in order", func(t *testing.T) {
		r := require.New(t)

		rb := NewRingBuf[int](16)

		const total = 10000

		var wg sync.WaitGroup
		wg.Add(1)

		go func() {
			defer wg.Done()
			for i := 0; i < total; {
				if rb.Push(i) {
					i++
				}
			}
		}()

		for want := 0; want < total; {
			v, ok := rb.Pop()
			if !ok {
				continue
			}
			r.Equal(want, v)
			want++
		}

		wg.Wait()
		r.True(rb.EmptyP())
	})
}
