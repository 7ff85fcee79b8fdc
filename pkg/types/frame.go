package types

import (
	"fmt"
	"sync/atomic"
	"time"
)

// PixelFormat identifies the memory layout of an image buffer
type PixelFormat int

const (
	FormatRGB8  PixelFormat = iota // 3 bytes per pixel
	FormatBGR8                     // 3 bytes per pixel
	FormatRGBA8                    // 4 bytes per pixel
	FormatZ16                      // 2 bytes per pixel, little endian depth in millimeters
)

var formatNames = map[PixelFormat]string{
	FormatRGB8:  "rgb8",
	FormatBGR8:  "bgr8",
	FormatRGBA8: "rgba8",
	FormatZ16:   "z16",
}

// String returns the short name of the pixel format
func (f PixelFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// BytesPerPixel returns the pixel stride of the format
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGB8, FormatBGR8:
		return 3
	case FormatRGBA8:
		return 4
	case FormatZ16:
		return 2
	default:
		return 0
	}
}

// ImageInfo describes the geometry of one stream
type ImageInfo struct {
	Width  int
	Height int
	Format PixelFormat
}

// Size returns the number of bytes a frame with this geometry occupies
func (i ImageInfo) Size() int {
	return i.Width * i.Height * i.Format.BytesPerPixel()
}

// Image is a reference-counted frame buffer.
// AddRef and Release return the count after the change.
type Image interface {
	Info() ImageInfo
	Data() []byte
	AddRef() int32
	Release() int32
}

// Buffer is the pooled Image implementation used by the frame sources.
// The creator holds the initial reference; onFree runs when the count drops to zero.
type Buffer struct {
	info   ImageInfo
	data   []byte
	refs   atomic.Int32
	onFree func(*Buffer)
}

// NewBuffer allocates a buffer with one reference held by the caller
func NewBuffer(info ImageInfo, onFree func(*Buffer)) *Buffer {
	b := &Buffer{
		info:   info,
		data:   make([]byte, info.Size()),
		onFree: onFree,
	}
	b.refs.Store(1)
	return b
}

// Reset re-arms a recycled buffer with a single reference
func (b *Buffer) Reset() {
	b.refs.Store(1)
}

func (b *Buffer) Info() ImageInfo { return b.info }
func (b *Buffer) Data() []byte    { return b.data }

// Refs returns the current reference count
func (b *Buffer) Refs() int32 { return b.refs.Load() }

// AddRef takes an additional reference
func (b *Buffer) AddRef() int32 {
	return b.refs.Add(1)
}

// Release drops one reference, recycling the buffer on the last one
func (b *Buffer) Release() int32 {
	n := b.refs.Add(-1)
	if n < 0 {
		panic("types: buffer released more times than referenced")
	}
	if n == 0 && b.onFree != nil {
		b.onFree(b)
	}
	return n
}

// FramePair is one synchronized color+depth capture
type FramePair struct {
	Number    uint64    // Sequential capture number
	Timestamp time.Time // Capture time
	Color     Image
	Depth     Image
}

// Lease takes one extra reference on each buffer of the pair and returns
// the handle that owns them. The pair must not be released by its source
// before Lease returns.
func (p *FramePair) Lease() *Lease {
	if p.Color != nil {
		p.Color.AddRef()
	}
	if p.Depth != nil {
		p.Depth.AddRef()
	}
	return &Lease{pair: p}
}

// Release drops the source's own reference on both buffers
func (p *FramePair) Release() {
	if p.Color != nil {
		p.Color.Release()
	}
	if p.Depth != nil {
		p.Depth.Release()
	}
}

// Lease is a moved ownership handle for the extra references taken on a
// FramePair. Whoever holds the Lease is responsible for calling Release;
// only the first call has an effect.
type Lease struct {
	pair     *FramePair
	released atomic.Bool
}

// Pair returns the leased frame pair
func (l *Lease) Pair() *FramePair {
	return l.pair
}

// Released reports whether the lease has given its references back
func (l *Lease) Released() bool {
	return l.released.Load()
}

// Release gives back the leased references. It returns false if the lease
// had already been released.
func (l *Lease) Release() bool {
	if !l.released.CompareAndSwap(false, true) {
		return false
	}
	l.pair.Release()
	return true
}
