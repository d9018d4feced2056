package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"liverseg/internal/logging"
	"liverseg/internal/models"
	"liverseg/pkg/filters"
	"liverseg/pkg/prompt"
	"liverseg/pkg/volumeio"
)

// volumeFilter maps a volume to a filtered volume of the same size.
type volumeFilter interface {
	Name() string
	Apply(v *models.Volume) (*models.Volume, error)
}

func runROI(args []string) error {
	fs := flag.NewFlagSet("roi", flag.ExitOnError)
	input := fs.String("input", "", "DICOM directory, NIfTI or MetaImage volume")
	seriesUID := fs.String("series", "", "SeriesInstanceUID to load when the directory holds several series")
	output := fs.String("output", "roi.mha", "Output MetaImage")
	asFloat := fs.Bool("float", false, "Write MET_FLOAT voxels instead of MET_SHORT")
	verbose := fs.Bool("verbose", false, "Debug logging")
	fs.Parse(args)

	if *input == "" {
		fs.Usage()
		return errors.New("-input is required")
	}
	logger := logging.New(*verbose)

	vol, err := loadVolume(*input, *seriesUID)
	if err != nil {
		return err
	}
	fmt.Printf("Volume is %d columns, %d rows and %d slices\n", vol.Width, vol.Height, vol.Depth)

	roi, err := extractROI(prompt.New(os.Stdin, os.Stdout), vol)
	if err != nil {
		return err
	}

	elem := volumeio.MetShort
	if *asFloat {
		elem = volumeio.MetFloat
	}
	if err := volumeio.WriteMHA(*output, roi, elem); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"width":  roi.Width,
		"height": roi.Height,
		"depth":  roi.Depth,
		"origin": roi.Geometry.Origin,
	}).Info("extracted region of interest")
	fmt.Printf("Region of interest saved to: %s\n", *output)
	return nil
}

// extractROI asks for the inclusive start and end index of every axis and
// crops vol to that box.
func extractROI(p *prompt.Prompter, vol *models.Volume) (*models.Volume, error) {
	axes := []struct {
		name string
		size int
	}{
		{"x-coordinate (column)", vol.Width},
		{"y-coordinate (row)", vol.Height},
		{"z-coordinate (slice)", vol.Depth},
	}

	var start, end [3]int
	for i, axis := range axes {
		var err error
		if start[i], err = p.Int(fmt.Sprintf("Enter %s start [0-%d]: ", axis.name, axis.size-1), 0, axis.size-1); err != nil {
			return nil, err
		}
		if end[i], err = p.Int(fmt.Sprintf("Enter %s end [%d-%d]: ", axis.name, start[i], axis.size-1), start[i], axis.size-1); err != nil {
			return nil, err
		}
	}

	return vol.ExtractRegion(start[0], start[1], start[2],
		end[0]-start[0]+1, end[1]-start[1]+1, end[2]-start[2]+1)
}

func runVessel(args []string) error {
	fs := flag.NewFlagSet("vessel", flag.ExitOnError)
	input := fs.String("input", "", "DICOM directory, NIfTI or MetaImage volume")
	seriesUID := fs.String("series", "", "SeriesInstanceUID to load when the directory holds several series")
	output := fs.String("output", "vessels.mha", "Output MetaImage, rescaled to 0-255")
	method := fs.String("method", "frangi", "Vesselness measure: frangi or sato")
	sigmaMin := fs.Float64("sigma-min", 1, "Smallest scale in physical units")
	sigmaMax := fs.Float64("sigma-max", 3, "Largest scale in physical units")
	steps := fs.Int("steps", 3, "Number of equally spaced scales")
	dark := fs.Bool("dark", false, "Frangi: look for dark vessels on a bright background")
	workers := fs.Int("workers", 0, "Slices filtered concurrently (default: number of CPUs)")
	verbose := fs.Bool("verbose", false, "Debug logging")
	fs.Parse(args)

	if *input == "" {
		fs.Usage()
		return errors.New("-input is required")
	}
	logger := logging.New(*verbose)

	vol, err := loadVolume(*input, *seriesUID)
	if err != nil {
		return err
	}

	sigmas := filters.MultiScaleSigmas(*sigmaMin, *sigmaMax, *steps)
	filter, err := newVesselFilter(*method, sigmas, !*dark, *workers)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"method": filter.Name(),
		"sigmas": sigmas,
	}).Info("enhancing vessels")

	enhanced, err := filter.Apply(vol)
	if err != nil {
		return err
	}
	if err := volumeio.WriteMHA(*output, filters.RescaleIntensity(enhanced, 0, 255), volumeio.MetUChar); err != nil {
		return err
	}
	fmt.Printf("Vesselness image saved to: %s\n", *output)
	return nil
}

// newVesselFilter builds the named vesselness measure over sigmas.
func newVesselFilter(method string, sigmas []float64, bright bool, workers int) (volumeFilter, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "frangi":
		f := filters.DefaultFrangi()
		f.Sigmas = sigmas
		f.BrightObject = bright
		f.Workers = workers
		return f, nil
	case "sato":
		s := filters.DefaultSato()
		s.Sigmas = sigmas
		s.Workers = workers
		return s, nil
	}
	return nil, errors.Errorf("unknown vesselness method %q: expected frangi or sato", method)
}
