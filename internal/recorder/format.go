package recorder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/or-samples/tracking-web/pkg/types"
)

const (
	recordMagic   = "ORFP"
	recordVersion = 1

	// FileExt is appended to every recording file name
	FileExt = ".orfp.zst"

	// maxPlaneSize bounds a single image plane read from disk (4K RGBA)
	maxPlaneSize = 3840 * 2160 * 4
)

var ErrBadRecord = errors.New("recorder: malformed frame record")

// Frame is one recorded frame pair with its own copy of the pixels
type Frame struct {
	Number    uint64
	Timestamp time.Time
	ColorInfo types.ImageInfo
	Color     []byte
	DepthInfo types.ImageInfo
	Depth     []byte
}

// copyFrame snapshots a frame pair so the caller can release its buffers
func copyFrame(pair *types.FramePair) *Frame {
	f := &Frame{Number: pair.Number, Timestamp: pair.Timestamp}
	if pair.Color != nil {
		f.ColorInfo = pair.Color.Info()
		f.Color = append([]byte(nil), pair.Color.Data()...)
	}
	if pair.Depth != nil {
		f.DepthInfo = pair.Depth.Info()
		f.Depth = append([]byte(nil), pair.Depth.Data()...)
	}
	return f
}

// header: magic, version, number, nanos, 2x (width, height, format)
const headerSize = 4 + 4 + 8 + 8 + 2*12

func writeFrame(w io.Writer, f *Frame) (int, error) {
	var hdr [headerSize]byte
	copy(hdr[0:4], recordMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], recordVersion)
	binary.LittleEndian.PutUint64(hdr[8:16], f.Number)
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(f.Timestamp.UnixNano()))
	putInfo(hdr[24:36], f.ColorInfo)
	putInfo(hdr[36:48], f.DepthInfo)

	n, err := w.Write(hdr[:])
	if err != nil {
		return n, err
	}
	for _, plane := range [][]byte{f.Color, f.Depth} {
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(plane)))
		m, err := w.Write(size[:])
		n += m
		if err != nil {
			return n, err
		}
		m, err = w.Write(plane)
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func readFrame(r io.Reader) (*Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated header", ErrBadRecord)
		}
		return nil, err
	}
	if string(hdr[0:4]) != recordMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadRecord, hdr[0:4])
	}
	if v := binary.LittleEndian.Uint32(hdr[4:8]); v != recordVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadRecord, v)
	}

	f := &Frame{
		Number:    binary.LittleEndian.Uint64(hdr[8:16]),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(hdr[16:24]))),
		ColorInfo: getInfo(hdr[24:36]),
		DepthInfo: getInfo(hdr[36:48]),
	}

	var err error
	if f.Color, err = readPlane(r, f.ColorInfo); err != nil {
		return nil, fmt.Errorf("color plane: %w", err)
	}
	if f.Depth, err = readPlane(r, f.DepthInfo); err != nil {
		return nil, fmt.Errorf("depth plane: %w", err)
	}
	return f, nil
}

func readPlane(r io.Reader, info types.ImageInfo) ([]byte, error) {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	n := int(binary.LittleEndian.Uint32(size[:]))
	if n > maxPlaneSize || n != info.Size() {
		return nil, fmt.Errorf("%w: plane size %d for %dx%d %s", ErrBadRecord, n, info.Width, info.Height, info.Format)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	return buf, nil
}

func putInfo(b []byte, info types.ImageInfo) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(info.Width))
	binary.LittleEndian.PutUint32(b[4:8], uint32(info.Height))
	binary.LittleEndian.PutUint32(b[8:12], uint32(info.Format))
}

func getInfo(b []byte) types.ImageInfo {
	return types.ImageInfo{
		Width:  int(binary.LittleEndian.Uint32(b[0:4])),
		Height: int(binary.LittleEndian.Uint32(b[4:8])),
		Format: types.PixelFormat(binary.LittleEndian.Uint32(b[8:12])),
	}
}

// Reader replays a recording file frame by frame
type Reader struct {
	file *os.File
	dec  *zstd.Decoder
}

// OpenReader opens a recording written by Recorder
func OpenReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	dec, err := zstd.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("could not create decoder: %w", err)
	}
	return &Reader{file: file, dec: dec}, nil
}

// Next returns the next frame, or io.EOF at the end of the recording
func (r *Reader) Next() (*Frame, error) {
	return readFrame(r.dec)
}

// Rewind seeks back to the first frame
func (r *Reader) Rewind() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind recording: %w", err)
	}
	return r.dec.Reset(r.file)
}

// Close releases the decoder and file
func (r *Reader) Close() error {
	r.dec.Close()
	return r.file.Close()
}
