package collective

import "github.com/NVIDIA/aisync/device"

// scaleInPlace is the "scalar math helper" external collaborator from spec §6: an in-place
// scalar multiply of a device buffer slice on a given stream. Both backends use it to apply the
// 1/N factor after summing.
func scaleInPlace[T device.Scalar](stream device.Stream, buf *device.Buffer[T], off, n int, scalar T) {
	stream.Launch(func() {
		s := buf.Data[off : off+n]
		for i := range s {
			s[i] *= scalar
		}
	})
}

// addInPlace adds src[off:off+n] into dst[off:off+n], queued on stream. The in-house ring
// all-reduce uses this to accumulate each hop's incoming partial sum (spec §4.4, no vendor
// library involved so the add is local arithmetic rather than a collaborator primitive).
func addInPlace[T device.Scalar](stream device.Stream, dst, src *device.Buffer[T], off, n int) {
	stream.Launch(func() {
		d := dst.Data[off : off+n]
		s := src.Data[off : off+n]
		for i := range d {
			d[i] += s[i]
		}
	})
}
