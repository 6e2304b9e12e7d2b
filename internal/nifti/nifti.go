// Package nifti reads and writes gzip-compressed NIfTI-1 volumes.
//
// Only the subset of the format the trainer needs is implemented: 3-D
// single-frame images, the common scalar datatypes, and the sform
// voxel-to-physical transform. Files with a meaningful sform use it
// directly; otherwise the affine falls back to a diagonal built from
// pixdim spacing.
//
// NIfTI-1 header layout (348 bytes, little- or big-endian, detected
// from sizeof_hdr):
//
//	offset  field       size
//	0       sizeof_hdr  int32   must be 348
//	40      dim[8]      int16   dim[0]=rank, dim[1..3]=x,y,z extents
//	70      datatype    int16   see DT_* constants
//	72      bitpix      int16
//	76      pixdim[8]   float32 voxel spacing in dim order
//	108     vox_offset  float32 byte offset of the data block
//	112     scl_slope   float32 intensity scaling (0 means none)
//	116     scl_inter   float32
//	254     sform_code  int16
//	280     srow_x/y/z  3x4 float32, rows of the affine
//	344     magic       "n+1\0" (single file) or "ni1\0" (pair)
package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/contour-quest/contour.quest/internal/geom"
	"github.com/contour-quest/contour.quest/internal/volume"
)

// ErrVolumeNotFound indicates the referenced volume file does not exist.
var ErrVolumeNotFound = errors.New("volume not found")

// NIfTI-1 datatype codes.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
)

const (
	headerSize    = 348
	magicOffset   = 344
	dataOffset    = 352 // header + 4-byte extension flag
	maxDimension  = 4096
	gzipMagicByte = 0x1f
)

type header struct {
	dim      [3]int
	datatype int16
	bitpix   int16
	pixdim   [3]float64
	voxOff   int64
	slope    float64
	inter    float64
	affine   geom.Affine
	order    binary.ByteOrder
}

// readAll opens path, transparently decompressing gzip content.
func readAll(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrVolumeNotFound, path)
		}
		return nil, err
	}
	defer f.Close()

	var first [2]byte
	if _, err := io.ReadFull(f, first[:]); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var r io.Reader = f
	if first[0] == gzipMagicByte && first[1] == 0x8b {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(r)
}

func parseHeader(raw []byte) (*header, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("file too short for NIfTI-1 header: %d bytes", len(raw))
	}

	// Endianness is detected from sizeof_hdr: 348 read with the wrong
	// byte order comes out as 1543569408.
	var order binary.ByteOrder = binary.LittleEndian
	if order.Uint32(raw[0:4]) != headerSize {
		order = binary.BigEndian
		if order.Uint32(raw[0:4]) != headerSize {
			return nil, errors.New("not a NIfTI-1 file (bad sizeof_hdr)")
		}
	}

	magic := raw[magicOffset : magicOffset+4]
	if !bytes.Equal(magic, []byte("n+1\x00")) && !bytes.Equal(magic, []byte("ni1\x00")) {
		return nil, fmt.Errorf("not a NIfTI-1 file (bad magic %q)", magic)
	}

	h := &header{order: order}

	rank := int(int16(order.Uint16(raw[40:42])))
	if rank < 3 {
		return nil, fmt.Errorf("expected a 3-D volume, got rank %d", rank)
	}
	for i := 0; i < 3; i++ {
		d := int(int16(order.Uint16(raw[42+2*i : 44+2*i])))
		if d < 1 || d > maxDimension {
			return nil, fmt.Errorf("dimension %d out of range: %d", i+1, d)
		}
		h.dim[i] = d
	}
	// Trailing dims beyond 3 must be singleton; multi-frame images are
	// not supported.
	for i := 3; i < rank && i < 7; i++ {
		d := int(int16(order.Uint16(raw[42+2*i : 44+2*i])))
		if d > 1 {
			return nil, fmt.Errorf("multi-frame volume not supported (dim[%d]=%d)", i+1, d)
		}
	}

	h.datatype = int16(order.Uint16(raw[70:72]))
	h.bitpix = int16(order.Uint16(raw[72:74]))
	for i := 0; i < 3; i++ {
		h.pixdim[i] = float64(math.Float32frombits(order.Uint32(raw[80+4*i : 84+4*i])))
		if h.pixdim[i] == 0 {
			h.pixdim[i] = 1
		}
	}
	h.voxOff = int64(math.Float32frombits(order.Uint32(raw[108:112])))
	if h.voxOff < headerSize {
		h.voxOff = dataOffset
	}
	h.slope = float64(math.Float32frombits(order.Uint32(raw[112:116])))
	h.inter = float64(math.Float32frombits(order.Uint32(raw[116:120])))

	sformCode := int16(order.Uint16(raw[254:256]))
	if sformCode > 0 {
		for r := 0; r < 3; r++ {
			for c := 0; c < 4; c++ {
				off := 280 + 16*r + 4*c
				h.affine[r][c] = float64(math.Float32frombits(order.Uint32(raw[off : off+4])))
			}
		}
		h.affine[3] = [4]float64{0, 0, 0, 1}
	} else {
		h.affine = geom.Scaled(h.pixdim[0], h.pixdim[1], h.pixdim[2])
	}

	return h, nil
}

func (h *header) geometry() geom.Geometry {
	return geom.Geometry{
		Shape:  geom.Shape{X: h.dim[0], Y: h.dim[1], Z: h.dim[2]},
		Affine: h.affine,
	}
}

// value decodes the voxel at flat index i from the raw data block.
func (h *header) value(data []byte, i int) (float64, error) {
	switch h.datatype {
	case dtUint8:
		return float64(data[i]), nil
	case dtInt8:
		return float64(int8(data[i])), nil
	case dtInt16:
		return float64(int16(h.order.Uint16(data[2*i : 2*i+2]))), nil
	case dtUint16:
		return float64(h.order.Uint16(data[2*i : 2*i+2])), nil
	case dtInt32:
		return float64(int32(h.order.Uint32(data[4*i : 4*i+4]))), nil
	case dtFloat32:
		return float64(math.Float32frombits(h.order.Uint32(data[4*i : 4*i+4]))), nil
	case dtFloat64:
		return math.Float64frombits(h.order.Uint64(data[8*i : 8*i+8])), nil
	default:
		return 0, fmt.Errorf("unsupported NIfTI datatype %d", h.datatype)
	}
}

func (h *header) dataBlock(raw []byte) ([]byte, error) {
	n := h.dim[0] * h.dim[1] * h.dim[2]
	bytesPerVoxel := int(h.bitpix) / 8
	if bytesPerVoxel == 0 {
		bytesPerVoxel = 1
	}
	need := h.voxOff + int64(n*bytesPerVoxel)
	if int64(len(raw)) < need {
		return nil, fmt.Errorf("truncated volume: have %d bytes, need %d", len(raw), need)
	}
	return raw[h.voxOff:need], nil
}

// ReadVolume loads a scalar intensity volume (CT), applying the
// header's intensity scaling when present.
func ReadVolume(path string) (*volume.Volume, error) {
	raw, err := readAll(path)
	if err != nil {
		return nil, err
	}
	h, err := parseHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	data, err := h.dataBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	v := volume.NewVolume(h.geometry())
	slope, inter := h.slope, h.inter
	if slope == 0 {
		slope, inter = 1, 0
	}
	for i := range v.Data {
		val, err := h.value(data, i)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		v.Data[i] = float32(val*slope + inter)
	}
	return v, nil
}

// ReadLabelVolume loads an integer label volume. Intensity scaling is
// ignored: label files store IDs verbatim. IDs above 255 are rejected
// rather than truncated.
func ReadLabelVolume(path string) (*volume.LabelVolume, error) {
	raw, err := readAll(path)
	if err != nil {
		return nil, err
	}
	h, err := parseHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	data, err := h.dataBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m := volume.NewLabelVolume(h.geometry())
	for i := range m.Data {
		val, err := h.value(data, i)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		id := int64(val)
		if float64(id) != val || id < 0 || id > 255 {
			return nil, fmt.Errorf("%s: voxel %d holds non-label value %g", path, i, val)
		}
		m.Data[i] = uint8(id)
	}
	return m, nil
}

// WriteLabelVolume writes a label volume as gzip-compressed NIfTI-1
// (uint8 datatype) carrying the volume's own affine as the sform.
func WriteLabelVolume(path string, m *volume.LabelVolume) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeLabelVolume(f, m); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// EncodeLabelVolume streams a label volume to w in the gzip-compressed
// NIfTI-1 encoding used by WriteLabelVolume.
func EncodeLabelVolume(w io.Writer, m *volume.LabelVolume) error {
	raw := make([]byte, dataOffset+len(m.Data))
	order := binary.LittleEndian

	order.PutUint32(raw[0:4], headerSize)
	raw[38] = 'r' // ANALYZE "regular" flag, kept for legacy readers

	order.PutUint16(raw[40:42], 3) // rank
	order.PutUint16(raw[42:44], uint16(m.Geom.Shape.X))
	order.PutUint16(raw[44:46], uint16(m.Geom.Shape.Y))
	order.PutUint16(raw[46:48], uint16(m.Geom.Shape.Z))
	for i := 4; i < 8; i++ {
		order.PutUint16(raw[40+2*i:42+2*i], 1)
	}

	order.PutUint16(raw[70:72], dtUint8)
	order.PutUint16(raw[72:74], 8) // bitpix

	sx, sy, sz := m.Geom.Affine.Spacing()
	pix := [8]float64{1, sx, sy, sz, 1, 1, 1, 1}
	for i, p := range pix {
		order.PutUint32(raw[76+4*i:80+4*i], math.Float32bits(float32(p)))
	}

	order.PutUint32(raw[108:112], math.Float32bits(dataOffset)) // vox_offset
	order.PutUint32(raw[112:116], math.Float32bits(1))          // scl_slope

	order.PutUint16(raw[252:254], 1) // qform_code: unused but valid
	order.PutUint16(raw[254:256], 1) // sform_code: scanner anatomical
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			off := 280 + 16*r + 4*c
			order.PutUint32(raw[off:off+4], math.Float32bits(float32(m.Geom.Affine[r][c])))
		}
	}
	copy(raw[magicOffset:], "n+1\x00")

	copy(raw[dataOffset:], m.Data)

	gz := gzip.NewWriter(w)
	if _, err := gz.Write(raw); err != nil {
		return err
	}
	return gz.Close()
}
