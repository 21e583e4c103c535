// Package heap is a general-purpose allocator for raw memory obtained a page at a time from a
// pages.Mapper. Memory is carved into blocks carrying boundary tags at both ends, free blocks
// are threaded through an explicit free list stored inside the blocks themselves, neighboring
// free blocks are merged as soon as they appear, and whole chunks are handed back to the
// Mapper once nothing in them is in use.
//
// An Allocator is not safe for concurrent use.
package heap
