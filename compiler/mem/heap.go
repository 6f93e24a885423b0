// Package mem is the interpreter's typed heap: a per-allocation arena
// addressed by (base, offset) keys. Pointer arithmetic moves the offset,
// dereference validates it.
package mem

import (
	"tlog.app/go/errors"
)

type (
	// Key addresses one slot: base names the allocation, off the slot in it.
	Key struct {
		Base int
		Off  int
	}

	Heap struct {
		allocs map[int][]any
		next   int
	}
)

func New() *Heap {
	return &Heap{
		allocs: map[int][]any{},
	}
}

// Alloc reserves n slots and returns a key at offset zero.
func (h *Heap) Alloc(n int) (Key, error) {
	if n <= 0 {
		return Key{}, errors.New("alloc of non-positive size %d", n)
	}

	base := h.next
	h.next++

	h.allocs[base] = make([]any, n)

	return Key{Base: base}, nil
}

// Free releases a whole allocation. The key must be the one Alloc returned:
// offset zero and a live base.
func (h *Heap) Free(k Key) error {
	if k.Off != 0 {
		return errors.New("free of interior pointer %v", k)
	}

	if _, ok := h.allocs[k.Base]; !ok {
		return errors.New("free of unallocated base %d", k.Base)
	}

	delete(h.allocs, k.Base)

	return nil
}

func (h *Heap) Read(k Key) (any, error) {
	cells, err := h.cells(k)
	if err != nil {
		return nil, err
	}

	v := cells[k.Off]
	if v == nil {
		return nil, errors.New("load of uninitialized slot %v", k)
	}

	return v, nil
}

func (h *Heap) Write(k Key, v any) error {
	cells, err := h.cells(k)
	if err != nil {
		return err
	}

	cells[k.Off] = v

	return nil
}

// PtrAdd shifts the offset without validation; Read and Write validate.
func (k Key) PtrAdd(delta int) Key {
	return Key{Base: k.Base, Off: k.Off + delta}
}

// Cmp orders two keys within one allocation. Comparing keys with distinct
// bases is a programming error in the interpreted program.
func (k Key) Cmp(o Key) (int, error) {
	if k.Base != o.Base {
		return 0, errors.New("pointer comparison across allocations: %v vs %v", k, o)
	}

	switch {
	case k.Off < o.Off:
		return -1, nil
	case k.Off > o.Off:
		return 1, nil
	default:
		return 0, nil
	}
}

// Empty is true when every allocation has been freed.
func (h *Heap) Empty() bool { return len(h.allocs) == 0 }

// Count is the number of live allocations.
func (h *Heap) Count() int { return len(h.allocs) }

func (h *Heap) cells(k Key) ([]any, error) {
	cells, ok := h.allocs[k.Base]
	if !ok {
		return nil, errors.New("access to unallocated base %d", k.Base)
	}

	if k.Off < 0 || k.Off >= len(cells) {
		return nil, errors.New("out of bounds: offset %d, length %d", k.Off, len(cells))
	}

	return cells, nil
}
