package main

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/pageheap/heap"
	"github.com/vkngwrapper/pageheap/pages"
	"golang.org/x/exp/slog"
)

// meteredMapper tracks how many bytes are mapped through it at any moment
type meteredMapper struct {
	pages.Mapper

	mapped     int
	peak       int
	mapCalls   int
	unmapCalls int
}

func (m *meteredMapper) Map(size int) (pages.Region, error) {
	region, err := m.Mapper.Map(size)
	if err != nil {
		return region, err
	}

	m.mapCalls++
	m.mapped += region.Size()
	if m.mapped > m.peak {
		m.peak = m.mapped
	}
	return region, nil
}

func (m *meteredMapper) Unmap(addr uintptr, size int) error {
	err := m.Mapper.Unmap(addr, size)
	if err != nil {
		return err
	}

	m.unmapCalls++
	m.mapped -= pages.AlignToPage(size, m.PageSize())
	return nil
}

// Result summarizes one trace run
type Result struct {
	Name          string
	Ops           int
	Allocs        int
	Frees         int
	Reallocs      int
	PeakPayload   int
	PeakMapped    int
	MapCalls      int
	UnmapCalls    int
	Utilization   float64
	PagesReturned bool
	Elapsed       time.Duration
}

// Driver replays traces against fresh allocators
type Driver struct {
	logger    *slog.Logger
	options   heap.CreateOptions
	newMapper func() (pages.Mapper, error)
	check     bool
}

func pattern(id, index int) byte {
	return byte(id*7 + index + 1)
}

type block struct {
	ptr  heap.Ptr
	size int
}

type replay struct {
	allocator   *heap.Allocator
	blocks      []block
	livePayload int
	result      *Result
}

func (r *replay) fill(id int, from int) {
	payload := r.allocator.Payload(r.blocks[id].ptr)
	for i := from; i < r.blocks[id].size; i++ {
		payload[i] = pattern(id, i)
	}
}

func (r *replay) verify(id int) error {
	payload := r.allocator.Payload(r.blocks[id].ptr)
	for i := 0; i < r.blocks[id].size; i++ {
		if payload[i] != pattern(id, i) {
			return errors.Newf("payload of block %d was overwritten at byte %d", id, i)
		}
	}
	return nil
}

func (r *replay) allocate(id, size int) error {
	if r.blocks[id].ptr != 0 {
		return errors.Newf("block %d is allocated twice", id)
	}

	ptr, err := r.allocator.Allocate(size)
	if err != nil {
		return err
	}

	r.blocks[id] = block{ptr: ptr, size: size}
	r.fill(id, 0)
	r.addPayload(size)
	return nil
}

func (r *replay) release(id int) error {
	if r.blocks[id].ptr == 0 {
		return errors.Newf("block %d is freed while not allocated", id)
	}

	err := r.verify(id)
	if err != nil {
		return err
	}

	r.allocator.Release(r.blocks[id].ptr)
	r.addPayload(-r.blocks[id].size)
	r.blocks[id] = block{}
	return nil
}

// reallocate moves a block to a new allocation of a different size, keeping its contents
func (r *replay) reallocate(id, size int) error {
	old := r.blocks[id]
	if old.ptr == 0 {
		return r.allocate(id, size)
	}

	err := r.verify(id)
	if err != nil {
		return err
	}

	ptr, err := r.allocator.Allocate(size)
	if err != nil {
		return err
	}

	copy(r.allocator.Payload(ptr)[:size], r.allocator.Payload(old.ptr)[:min(old.size, size)])
	r.allocator.Release(old.ptr)

	r.blocks[id] = block{ptr: ptr, size: size}
	if size > old.size {
		r.fill(id, old.size)
	}
	r.addPayload(size - old.size)
	return nil
}

func (r *replay) addPayload(delta int) {
	r.livePayload += delta
	if r.livePayload > r.result.PeakPayload {
		r.result.PeakPayload = r.livePayload
	}
}

func (d *Driver) Run(trace *Trace) (*Result, error) {
	mapper, err := d.newMapper()
	if err != nil {
		return nil, err
	}
	metered := &meteredMapper{Mapper: mapper}

	allocator, err := heap.New(d.logger, metered, d.options)
	if err != nil {
		return nil, err
	}

	err = allocator.Initialize()
	if err != nil {
		return nil, err
	}

	result := &Result{Name: trace.Name, Ops: len(trace.Ops)}
	r := &replay{
		allocator: allocator,
		blocks:    make([]block, trace.IDCount),
		result:    result,
	}

	start := time.Now()
	for index, op := range trace.Ops {
		switch op.Kind {
		case OpAlloc:
			result.Allocs++
			err = r.allocate(op.ID, op.Size)
		case OpFree:
			result.Frees++
			err = r.release(op.ID)
		case OpRealloc:
			result.Reallocs++
			err = r.reallocate(op.ID, op.Size)
		}

		if err == nil && d.check {
			err = allocator.Validate()
		}

		if err != nil {
			return nil, errors.Wrapf(err, "%s: op %d (%s %d)", trace.Name, index, op.Kind, op.ID)
		}
	}
	result.Elapsed = time.Since(start)

	if verbose {
		allocator.DebugLogAllAllocations()
	}

	for id := range r.blocks {
		if r.blocks[id].ptr == 0 {
			continue
		}

		err = r.release(id)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: releasing leftover blocks", trace.Name)
		}
	}

	result.PeakMapped = metered.peak
	result.MapCalls = metered.mapCalls
	result.UnmapCalls = metered.unmapCalls
	result.PagesReturned = metered.mapped == 0
	if metered.peak > 0 {
		result.Utilization = float64(result.PeakPayload) / float64(metered.peak)
	}

	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "trace complete",
		slog.String("trace", trace.Name),
		slog.String("stats", allocator.BuildStatsString(false)),
	)

	return result, nil
}
