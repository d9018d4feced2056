package volumeio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"liverseg/internal/models"
)

// ElementType is the MetaImage voxel type.
type ElementType string

const (
	MetUChar  ElementType = "MET_UCHAR"
	MetShort  ElementType = "MET_SHORT"
	MetFloat  ElementType = "MET_FLOAT"
	MetDouble ElementType = "MET_DOUBLE"
)

func (e ElementType) size() int {
	switch e {
	case MetUChar:
		return 1
	case MetShort:
		return 2
	case MetFloat:
		return 4
	case MetDouble:
		return 8
	}
	return 0
}

func formatFloats(values ...float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

// WriteMHA writes v as a single-file MetaImage (.mha) with inline data.
// MET_UCHAR and MET_SHORT round and saturate voxel values to uint8 and
// int16.
func WriteMHA(path string, v *models.Volume, elem ElementType) error {
	if elem.size() == 0 {
		return errors.Errorf("unsupported element type for writing: %s", elem)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create MetaImage file")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	g := v.Geometry

	// TransformMatrix lists the direction of each image axis in turn
	var transform []float64
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			transform = append(transform, g.Direction[r*3+c])
		}
	}

	header := []string{
		"ObjectType = Image",
		"NDims = 3",
		"BinaryData = True",
		"BinaryDataByteOrderMSB = False",
		"CompressedData = False",
		"TransformMatrix = " + formatFloats(transform...),
		"Offset = " + formatFloats(g.Origin[:]...),
		"CenterOfRotation = 0 0 0",
		"AnatomicalOrientation = RAI",
		"ElementSpacing = " + formatFloats(g.Spacing[:]...),
		fmt.Sprintf("DimSize = %d %d %d", v.Width, v.Height, v.Depth),
		"ElementType = " + string(elem),
		"ElementDataFile = LOCAL",
	}
	for _, line := range header {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return errors.Wrap(err, "failed to write MetaImage header")
		}
	}

	buf := make([]byte, elem.size())
	for _, x := range v.Data {
		switch elem {
		case MetUChar:
			buf[0] = saturateUint8(x)
		case MetShort:
			binary.LittleEndian.PutUint16(buf, uint16(saturateInt16(x)))
		case MetFloat:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(x)))
		case MetDouble:
			binary.LittleEndian.PutUint64(buf, math.Float64bits(x))
		}
		if _, err := w.Write(buf); err != nil {
			return errors.Wrap(err, "failed to write MetaImage data")
		}
	}

	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "failed to write MetaImage data")
	}
	return f.Close()
}

func saturateInt16(x float64) int16 {
	r := math.Round(x)
	if math.IsNaN(r) {
		return 0
	}
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, r)))
}

func saturateUint8(x float64) uint8 {
	r := math.Round(x)
	if math.IsNaN(r) {
		return 0
	}
	return uint8(math.Max(0, math.Min(math.MaxUint8, r)))
}

// ReadMHA reads a single-file MetaImage written by WriteMHA or ITK.
func ReadMHA(path string) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open MetaImage file")
	}
	defer f.Close()

	r := bufio.NewReader(f)
	fields := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "%s: truncated MetaImage header", path)
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, errors.Errorf("%s: malformed header line %q", path, strings.TrimSpace(line))
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		fields[key] = value
		if key == "ElementDataFile" {
			break
		}
	}

	if fields["ElementDataFile"] != "LOCAL" {
		return nil, errors.Errorf("%s: detached data files are not supported", path)
	}
	if strings.EqualFold(fields["CompressedData"], "True") {
		return nil, errors.Errorf("%s: compressed data is not supported", path)
	}
	if fields["NDims"] != "3" && fields["NDims"] != "2" {
		return nil, errors.Errorf("%s: unsupported NDims %q", path, fields["NDims"])
	}

	dims, err := parseInts(fields["DimSize"])
	if err != nil || len(dims) < 2 {
		return nil, errors.Errorf("%s: invalid DimSize %q", path, fields["DimSize"])
	}
	if len(dims) == 2 {
		dims = append(dims, 1)
	}
	v := models.NewVolume(dims[0], dims[1], dims[2])

	if err := readGeometry(fields, &v.Geometry); err != nil {
		return nil, errors.Wrap(err, path)
	}

	elem := ElementType(fields["ElementType"])
	if elem.size() == 0 {
		return nil, errors.Errorf("%s: unsupported element type %q", path, elem)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if strings.EqualFold(fields["BinaryDataByteOrderMSB"], "True") || strings.EqualFold(fields["ElementByteOrderMSB"], "True") {
		order = binary.BigEndian
	}

	buf := make([]byte, elem.size())
	for i := range v.Data {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, errors.Wrapf(err, "%s: truncated data at voxel %d", path, i)
		}
		switch elem {
		case MetUChar:
			v.Data[i] = float64(buf[0])
		case MetShort:
			v.Data[i] = float64(int16(order.Uint16(buf)))
		case MetFloat:
			v.Data[i] = float64(math.Float32frombits(order.Uint32(buf)))
		case MetDouble:
			v.Data[i] = math.Float64frombits(order.Uint64(buf))
		}
	}
	return v, nil
}

func readGeometry(fields map[string]string, g *models.Geometry) error {
	if s, ok := fields["ElementSpacing"]; ok {
		vals, err := parseFloats(s)
		if err != nil {
			return errors.Wrap(err, "ElementSpacing")
		}
		copy(g.Spacing[:], vals)
	}

	origin, ok := fields["Offset"]
	if !ok {
		origin, ok = fields["Origin"]
	}
	if ok {
		vals, err := parseFloats(origin)
		if err != nil {
			return errors.Wrap(err, "Offset")
		}
		copy(g.Origin[:], vals)
	}

	if s, ok := fields["TransformMatrix"]; ok {
		vals, err := parseFloats(s)
		if err != nil {
			return errors.Wrap(err, "TransformMatrix")
		}
		if len(vals) == 9 {
			for c := 0; c < 3; c++ {
				for r := 0; r < 3; r++ {
					g.Direction[r*3+c] = vals[c*3+r]
				}
			}
		}
	}
	return nil
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, field := range strings.Fields(s) {
		f, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, field := range strings.Fields(s) {
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
