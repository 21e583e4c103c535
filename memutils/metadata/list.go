package metadata

import (
	"github.com/pkg/errors"
)

const (
	nextLinkOffset = 0
	prevLinkOffset = WordSize
)

// List is a doubly-linked list whose links live inside the memory being managed. A node
// is the address of two words: the next link followed by the prev link. Address 0 is the
// null link. The zero value must be Init'd before use.
type List struct {
	mem   Memory
	head  uintptr
	count int
}

func (l *List) Init(mem Memory) {
	l.mem = mem
	l.Reset()
}

// Reset forgets every node without touching memory
func (l *List) Reset() {
	l.head = 0
	l.count = 0
}

func (l *List) Head() uintptr { return l.head }

func (l *List) Len() int { return l.count }

func (l *List) Next(node uintptr) uintptr {
	return uintptr(l.mem.Word(node + nextLinkOffset))
}

func (l *List) Prev(node uintptr) uintptr {
	return uintptr(l.mem.Word(node + prevLinkOffset))
}

func (l *List) setNext(node, next uintptr) {
	l.mem.SetWord(node+nextLinkOffset, uint64(next))
}

func (l *List) setPrev(node, prev uintptr) {
	l.mem.SetWord(node+prevLinkOffset, uint64(prev))
}

// Insert pushes node onto the front of the list
func (l *List) Insert(node uintptr) {
	l.setPrev(node, 0)
	l.setNext(node, l.head)
	if l.head != 0 {
		l.setPrev(l.head, node)
	}
	l.head = node
	l.count++
}

// Remove unlinks node from wherever it sits in the list and clears its links
func (l *List) Remove(node uintptr) {
	next := l.Next(node)
	prev := l.Prev(node)

	if prev != 0 {
		l.setNext(prev, next)
	} else {
		l.head = next
	}

	if next != 0 {
		l.setPrev(next, prev)
	}

	l.setNext(node, 0)
	l.setPrev(node, 0)
	l.count--
}

// Contains walks the list looking for node
func (l *List) Contains(node uintptr) bool {
	for cur := l.head; cur != 0; cur = l.Next(cur) {
		if cur == node {
			return true
		}
	}
	return false
}

// Validate checks that the links agree in both directions and that the node count is
// correct
func (l *List) Validate() error {
	if l.head != 0 && l.Prev(l.head) != 0 {
		return errors.Errorf("list head %#x has a previous node %#x", l.head, l.Prev(l.head))
	}

	count := 0
	var prev uintptr
	for cur := l.head; cur != 0; cur = l.Next(cur) {
		if l.Prev(cur) != prev {
			return errors.Errorf("node %#x lists %#x as its previous node, but it follows %#x", cur, l.Prev(cur), prev)
		}

		count++
		if count > l.count {
			return errors.Errorf("list holds more than the %d nodes it has counted", l.count)
		}
		prev = cur
	}

	if count != l.count {
		return errors.Errorf("list counted %d nodes but only %d are linked", l.count, count)
	}

	return nil
}
