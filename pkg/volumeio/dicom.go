// Package volumeio reads and writes the image formats used by liverseg:
// DICOM series and NIfTI volumes as input, MetaImage volumes and NumPy
// masks as output.
package volumeio

import (
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/dicomtag"
	"github.com/suyashkumar/dicom/element"

	"liverseg/internal/models"
)

var (
	// ErrNoSeries is returned when a directory holds no readable series, or
	// not the requested one.
	ErrNoSeries = errors.New("no DICOM series")

	// ErrAmbiguousSeries is returned when several series are present and
	// none was selected.
	ErrAmbiguousSeries = errors.New("several DICOM series found, select one by UID")
)

// Series is one DICOM series found in a directory.
type Series struct {
	UID         string
	Description string
	Files       []string
}

// dicomSlice is the per-file information needed to stack a series.
type dicomSlice struct {
	path        string
	position    [3]float64
	hasPosition bool
	orientation [6]float64
	instance    int
	rowSpacing  float64
	colSpacing  float64
	thickness   float64
	slope       float64
	intercept   float64
	rows, cols  int
	pixels      []int
}

// safelyParse consumes panics emitted by the dicom library and turns them
// into errors.
func safelyParse(path string, dropPixels bool) (data *element.DataSet, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	dcm, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	p, err := dicom.NewParserFromBytes(dcm, nil)
	if err != nil {
		return nil, err
	}

	data, err = p.Parse(dicom.ParseOptions{DropPixelData: dropPixels})
	if data == nil && err == nil {
		err = errors.New("empty dataset")
	}
	return data, err
}

// ListSeries groups the DICOM files of dir by SeriesInstanceUID. Files that
// cannot be parsed are skipped. Series are sorted by UID.
func ListSeries(dir string) ([]Series, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read DICOM directory")
	}

	byUID := make(map[string]*Series)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := safelyParse(path, true)
		if err != nil {
			continue
		}

		var uid, desc string
		for _, elem := range data.Elements {
			switch elem.Tag {
			case dicomtag.SeriesInstanceUID:
				uid = firstString(elem)
			case dicomtag.SeriesDescription:
				desc = firstString(elem)
			}
		}
		if uid == "" {
			continue
		}

		s, ok := byUID[uid]
		if !ok {
			s = &Series{UID: uid, Description: desc}
			byUID[uid] = s
		}
		s.Files = append(s.Files, path)
	}

	series := make([]Series, 0, len(byUID))
	for _, s := range byUID {
		sort.Strings(s.Files)
		series = append(series, *s)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].UID < series[j].UID })
	return series, nil
}

// selectSeries picks uid from series. An empty uid is only accepted when
// there is exactly one series.
func selectSeries(series []Series, uid string) (Series, error) {
	if len(series) == 0 {
		return Series{}, ErrNoSeries
	}

	if uid == "" {
		if len(series) > 1 {
			uids := make([]string, len(series))
			for i, s := range series {
				uids[i] = s.UID
			}
			return Series{}, errors.Wrapf(ErrAmbiguousSeries, "available: %s", strings.Join(uids, ", "))
		}
		return series[0], nil
	}

	for _, s := range series {
		if s.UID == uid {
			return s, nil
		}
	}
	return Series{}, errors.Wrapf(ErrNoSeries, "series %s not found", uid)
}

// LoadSeries reads the series uid from dir into a volume in rescaled units
// (Hounsfield units for CT). uid may be empty when dir holds a single
// series.
func LoadSeries(dir, uid string) (*models.Volume, error) {
	series, err := ListSeries(dir)
	if err != nil {
		return nil, err
	}
	selected, err := selectSeries(series, uid)
	if err != nil {
		return nil, errors.Wrapf(err, "in %s", dir)
	}

	slices := make([]dicomSlice, 0, len(selected.Files))
	for _, path := range selected.Files {
		s, err := readSlice(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}
		slices = append(slices, s)
	}

	return stackSlices(slices)
}

func readSlice(path string) (dicomSlice, error) {
	data, err := safelyParse(path, false)
	if err != nil {
		return dicomSlice{}, err
	}

	s := dicomSlice{
		path:        path,
		orientation: [6]float64{1, 0, 0, 0, 1, 0},
		rowSpacing:  1,
		colSpacing:  1,
		slope:       1,
	}
	for _, elem := range data.Elements {
		switch elem.Tag {
		case dicomtag.ImagePositionPatient:
			if v := floats(elem); len(v) == 3 {
				copy(s.position[:], v)
				s.hasPosition = true
			}
		case dicomtag.ImageOrientationPatient:
			if v := floats(elem); len(v) == 6 {
				copy(s.orientation[:], v)
			}
		case dicomtag.PixelSpacing:
			if v := floats(elem); len(v) == 2 {
				s.rowSpacing, s.colSpacing = v[0], v[1]
			}
		case dicomtag.SliceThickness:
			if v := floats(elem); len(v) > 0 {
				s.thickness = v[0]
			}
		case dicomtag.InstanceNumber:
			if v := floats(elem); len(v) > 0 {
				s.instance = int(v[0])
			}
		case dicomtag.RescaleSlope:
			if v := floats(elem); len(v) > 0 {
				s.slope = v[0]
			}
		case dicomtag.RescaleIntercept:
			if v := floats(elem); len(v) > 0 {
				s.intercept = v[0]
			}
		case dicomtag.Rows:
			s.rows = firstInt(elem)
		case dicomtag.Columns:
			s.cols = firstInt(elem)
		case dicomtag.PixelData:
			info, ok := elem.Value[0].(element.PixelDataInfo)
			if !ok {
				return dicomSlice{}, errors.New("unexpected pixel data layout")
			}
			for _, frame := range info.Frames {
				if frame.IsEncapsulated() {
					return dicomSlice{}, errors.New("encapsulated (compressed) pixel data is not supported")
				}
				for j := 0; j < len(frame.NativeData.Data); j++ {
					s.pixels = append(s.pixels, frame.NativeData.Data[j][0])
				}
			}
		}
	}

	if s.rows == 0 || s.cols == 0 {
		return dicomSlice{}, errors.New("missing image size")
	}
	if len(s.pixels) != s.rows*s.cols {
		return dicomSlice{}, errors.Errorf("expected %d pixels, got %d", s.rows*s.cols, len(s.pixels))
	}
	return s, nil
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// stackSlices orders slices along the slice normal (InstanceNumber when
// positions are missing) and builds the volume with its geometry.
func stackSlices(slices []dicomSlice) (*models.Volume, error) {
	if len(slices) == 0 {
		return nil, ErrNoSeries
	}

	rowDir := [3]float64{slices[0].orientation[0], slices[0].orientation[1], slices[0].orientation[2]}
	colDir := [3]float64{slices[0].orientation[3], slices[0].orientation[4], slices[0].orientation[5]}
	normal := cross(rowDir, colDir)

	positioned := true
	for _, s := range slices {
		positioned = positioned && s.hasPosition
	}
	sort.SliceStable(slices, func(i, j int) bool {
		if positioned {
			return dot(slices[i].position, normal) < dot(slices[j].position, normal)
		}
		return slices[i].instance < slices[j].instance
	})

	first := slices[0]
	width, height := first.cols, first.rows
	v := models.NewVolume(width, height, len(slices))

	zSpacing := first.thickness
	if positioned && len(slices) > 1 {
		zSpacing = math.Abs(dot(slices[1].position, normal) - dot(first.position, normal))
	}
	if !(zSpacing > 0) {
		zSpacing = 1
	}

	v.Geometry.Spacing = [3]float64{first.colSpacing, first.rowSpacing, zSpacing}
	v.Geometry.Origin = first.position
	for r := 0; r < 3; r++ {
		v.Geometry.Direction[r*3+0] = rowDir[r]
		v.Geometry.Direction[r*3+1] = colDir[r]
		v.Geometry.Direction[r*3+2] = normal[r]
	}

	n := width * height
	for z, s := range slices {
		if s.cols != width || s.rows != height {
			return nil, errors.Errorf("%s is %dx%d, series is %dx%d", s.path, s.cols, s.rows, width, height)
		}
		for i, p := range s.pixels {
			v.Data[z*n+i] = float64(p)*s.slope + s.intercept
		}
	}
	return v, nil
}

func firstString(elem *element.Element) string {
	for _, v := range elem.Value {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstInt(elem *element.Element) int {
	for _, v := range elem.Value {
		switch n := v.(type) {
		case uint16:
			return int(n)
		case uint32:
			return int(n)
		case int:
			return n
		}
	}
	return 0
}

// floats parses the decimal string values of elem, stopping at the first
// value that is not a number.
func floats(elem *element.Element) []float64 {
	var out []float64
	for _, v := range elem.Value {
		s, ok := v.(string)
		if !ok {
			break
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			break
		}
		out = append(out, f)
	}
	return out
}
