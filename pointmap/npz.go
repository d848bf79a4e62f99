package pointmap

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// A map archive is a zip file holding two NPY arrays: the point positions
// under xyz_world and the descriptors under descriptors. Arrays are written
// as little-endian float32; the reader also accepts float64 and members
// named without the .npy suffix.
const (
	xyzEntryName  = "xyz_world"
	descEntryName = "descriptors"
)

var npyMagic = []byte("\x93NUMPY")

const npyHeaderAlign = 64

// Save writes the map to path as a compressed archive.
func (m *Map) Save(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "error creating map archive %s", path)
	}
	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})
	defer func() {
		err = multierr.Combine(err, zw.Close(), f.Close())
	}()

	w, err := zw.Create(xyzEntryName + ".npy")
	if err != nil {
		return err
	}
	if err := writeNPY(w, m.xyz, m.Size(), 3); err != nil {
		return err
	}
	w, err = zw.Create(descEntryName + ".npy")
	if err != nil {
		return err
	}
	return writeNPY(w, m.desc.Flat(), m.Size(), m.desc.Dim())
}

// LoadMap reads a map archive written by Save, or by any tool producing the
// same two-array layout.
func LoadMap(path string) (*Map, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening map archive %s", path)
	}
	defer utils.UncheckedErrorFunc(zr.Close)
	zr.RegisterDecompressor(zip.Deflate, func(in io.Reader) io.ReadCloser {
		return flate.NewReader(in)
	})

	var (
		xyzData, descData   []float32
		xyzShape, descShape []int
	)
	for _, member := range zr.File {
		switch strings.TrimSuffix(member.Name, ".npy") {
		case xyzEntryName:
			xyzData, xyzShape, err = readArchiveMember(member)
		case descEntryName:
			descData, descShape, err = readArchiveMember(member)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	if xyzData == nil {
		return nil, errors.Errorf("map archive %s has no %s array", path, xyzEntryName)
	}
	if descData == nil {
		return nil, errors.Errorf("map archive %s has no %s array", path, descEntryName)
	}
	if len(xyzShape) != 2 || xyzShape[1] != 3 {
		return nil, errors.Errorf("%s array has shape %v, want (N, 3)", xyzEntryName, xyzShape)
	}
	if len(descShape) != 2 || descShape[1] < 1 {
		return nil, errors.Errorf("%s array has shape %v, want (N, D)", descEntryName, descShape)
	}
	return NewMap(xyzData, descData, descShape[1])
}

func readArchiveMember(member *zip.File) (_ []float32, _ []int, err error) {
	rc, err := member.Open()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "error opening archive member %s", member.Name)
	}
	defer func() {
		err = multierr.Combine(err, rc.Close())
	}()
	data, shape, err := readNPY(bufio.NewReader(rc))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "archive member %s", member.Name)
	}
	return data, shape, nil
}

// writeNPY emits one NPY version 1.0 array with a (rows, cols) shape and a
// little-endian float32 dtype.
func writeNPY(w io.Writer, data []float32, rows, cols int) error {
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", rows, cols)
	// Magic, version, and header length take 10 bytes; the padded header
	// brings the data offset to a multiple of 64.
	pad := npyHeaderAlign - (10+len(header)+1)%npyHeaderAlign
	if pad == npyHeaderAlign {
		pad = 0
	}
	header += strings.Repeat(" ", pad) + "\n"

	buf := make([]byte, 0, 10+len(header))
	buf = append(buf, npyMagic...)
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(header)))
	buf = append(buf, header...)
	if _, err := w.Write(buf); err != nil {
		return err
	}

	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	_, err := w.Write(raw)
	return err
}

var (
	npyDescrRe   = regexp.MustCompile(`'descr':\s*'([^']+)'`)
	npyFortranRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	npyShapeRe   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// readNPY decodes one NPY array into float32 values and its shape. Version
// 1 and 2 headers are understood; the dtype must be little-endian float32
// or float64 in C order.
func readNPY(r io.Reader) ([]float32, []int, error) {
	var preamble [8]byte
	if _, err := io.ReadFull(r, preamble[:]); err != nil {
		return nil, nil, errors.Wrap(err, "error reading NPY magic")
	}
	if !bytes.Equal(preamble[:6], npyMagic) {
		return nil, nil, errors.New("not an NPY array")
	}
	var headerLen int
	switch major := preamble[6]; major {
	case 1:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, nil, errors.Wrap(err, "error reading NPY header length")
		}
		headerLen = int(binary.LittleEndian.Uint16(b[:]))
	case 2, 3:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, nil, errors.Wrap(err, "error reading NPY header length")
		}
		headerLen = int(binary.LittleEndian.Uint32(b[:]))
	default:
		return nil, nil, errors.Errorf("unsupported NPY version %d", major)
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, nil, errors.Wrap(err, "error reading NPY header")
	}

	descr := npyDescrRe.FindSubmatch(header)
	if descr == nil {
		return nil, nil, errors.New("NPY header has no dtype")
	}
	var elemSize int
	switch dtype := string(descr[1]); dtype {
	case "<f4":
		elemSize = 4
	case "<f8":
		elemSize = 8
	default:
		return nil, nil, errors.Errorf("unsupported NPY dtype %q, want little-endian float", dtype)
	}
	if order := npyFortranRe.FindSubmatch(header); order != nil && string(order[1]) == "True" {
		return nil, nil, errors.New("fortran-order NPY arrays are not supported")
	}
	shapeMatch := npyShapeRe.FindSubmatch(header)
	if shapeMatch == nil {
		return nil, nil, errors.New("NPY header has no shape")
	}
	var shape []int
	count := 1
	for _, field := range strings.Split(string(shapeMatch[1]), ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		dim, err := strconv.Atoi(field)
		if err != nil || dim < 0 {
			return nil, nil, errors.Errorf("bad NPY shape dimension %q", field)
		}
		shape = append(shape, dim)
		count *= dim
	}

	raw := make([]byte, count*elemSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, nil, errors.Wrap(err, "error reading NPY data")
	}
	out := make([]float32, count)
	if elemSize == 4 {
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	} else {
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:])))
		}
	}
	return out, shape, nil
}
