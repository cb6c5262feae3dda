// Package xatomic provides small CAS-capable atomic wrappers, mirroring the teacher's
// cmn/atomic package (itself a thin veneer over sync/atomic with ergonomic Inc/Dec/CAS names).
package xatomic

import "sync/atomic"

type Int32 struct{ v int32 }

func (i *Int32) Load() int32        { return atomic.LoadInt32(&i.v) }
func (i *Int32) Store(n int32)      { atomic.StoreInt32(&i.v, n) }
func (i *Int32) Inc() int32         { return atomic.AddInt32(&i.v, 1) }
func (i *Int32) Dec() int32         { return atomic.AddInt32(&i.v, -1) }
func (i *Int32) Add(n int32) int32  { return atomic.AddInt32(&i.v, n) }
func (i *Int32) CAS(old, n int32) bool {
	return atomic.CompareAndSwapInt32(&i.v, old, n)
}

type Int64 struct{ v int64 }

func (i *Int64) Load() int64       { return atomic.LoadInt64(&i.v) }
func (i *Int64) Store(n int64)     { atomic.StoreInt64(&i.v, n) }
func (i *Int64) Inc() int64        { return atomic.AddInt64(&i.v, 1) }
func (i *Int64) Dec() int64        { return atomic.AddInt64(&i.v, -1) }
func (i *Int64) Add(n int64) int64 { return atomic.AddInt64(&i.v, n) }
func (i *Int64) CAS(old, n int64) bool {
	return atomic.CompareAndSwapInt64(&i.v, old, n)
}

type Bool struct{ v int32 }

func (b *Bool) Load() bool   { return atomic.LoadInt32(&b.v) != 0 }
func (b *Bool) Store(v bool) { atomic.StoreInt32(&b.v, b2i(v)) }
func (b *Bool) CAS(old, n bool) bool {
	return atomic.CompareAndSwapInt32(&b.v, b2i(old), b2i(n))
}

func b2i(v bool) int32 {
	if v {
		return 1
	}
	return 0
}
