package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"liverseg/internal/logging"
	"liverseg/internal/models"
	"liverseg/pkg/config"
	"liverseg/pkg/filters"
	"liverseg/pkg/labelmap"
	"liverseg/pkg/prompt"
	"liverseg/pkg/seeds"
	"liverseg/pkg/segmentation"
	"liverseg/pkg/viewer"
	"liverseg/pkg/volumeio"
)

const usage = `usage: liverseg <command> [flags]

commands:
  segment      segment one slice from seeds
  capture      pick seeds by scrolling and clicking
  assemble     build a label map from per-slice masks
  series       list the DICOM series of a directory
  roi          crop a region of interest into a MetaImage
  vessel       enhance vessels with a Frangi or Sato filter
  init-config  write the default configuration

run "liverseg <command> -h" for the flags of a command`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "segment":
		err = runSegment(ctx, args)
	case "capture":
		err = runCapture(ctx, args)
	case "assemble":
		err = runAssemble(args)
	case "series":
		err = runSeries(args)
	case "roi":
		err = runROI(args)
	case "vessel":
		err = runVessel(args)
	case "init-config":
		err = runInitConfig(args)
	case "-h", "-help", "--help", "help":
		fmt.Println(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		os.Exit(1)
	}

	if err != nil {
		logrus.WithError(err).Error(os.Args[1] + " failed")
		os.Exit(1)
	}
}

// loadVolume reads a DICOM directory, a NIfTI file or a MetaImage.
func loadVolume(path, seriesUID string) (*models.Volume, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open input")
	}
	if info.IsDir() {
		return volumeio.LoadSeries(path, seriesUID)
	}

	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".nii"), strings.HasSuffix(lower, ".nii.gz"):
		return volumeio.LoadNIfTI(path)
	case strings.HasSuffix(lower, ".mha"):
		return volumeio.ReadMHA(path)
	}
	return nil, errors.Errorf("unsupported input %s: expected a DICOM directory, .nii, .nii.gz or .mha", path)
}

func runSegment(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("segment", flag.ExitOnError)
	input := fs.String("input", "", "DICOM directory, NIfTI or MetaImage volume")
	seriesUID := fs.String("series", "", "SeriesInstanceUID to load when the directory holds several series")
	configPath := fs.String("config", "liverseg.yaml", "Configuration file")
	sliceIndex := fs.Int("slice", -1, "Slice to segment (default: slice of the first seed)")
	seedsPath := fs.String("seeds", "", "Seeds YAML written by the capture command")
	maskDir := fs.String("masks", "masks", "Directory receiving the slice mask")
	maskMode := fs.String("mode", segmentation.GeodesicActiveContour.String(), "Segmentation written as mask (fm, sd or gac)")
	interactive := fs.Bool("interactive", false, "Ask for filter, sigmoid, slice, seeds and thresholds on the console")
	initMethod := fs.String("init", "", "Initial level set: distance or disc (default from the configuration)")
	saveIntermediary := fs.Bool("save-intermediary", false, "Save a PNG for every pipeline stage")
	verbose := fs.Bool("verbose", false, "Debug logging")
	fs.Parse(args)

	if *input == "" {
		fs.Usage()
		return errors.New("-input is required")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *saveIntermediary {
		cfg.Processing.SaveIntermediaryResults = true
	}
	if *initMethod != "" {
		cfg.Initializer.Method = *initMethod
	}
	logger := logging.New(*verbose || cfg.Processing.Verbose)

	mode, err := segmentation.ParseMode(*maskMode)
	if err != nil {
		return err
	}

	vol, err := loadVolume(*input, *seriesUID)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"input":   *input,
		"width":   vol.Width,
		"height":  vol.Height,
		"depth":   vol.Depth,
		"spacing": vol.Geometry.Spacing,
	}).Info("loaded volume")

	var picked []models.Seed
	var thresholds segmentation.ThresholdFunc
	if *interactive {
		console := prompt.New(os.Stdin, os.Stdout)
		*sliceIndex, picked, err = askSegmentation(console, os.Stdout, vol, cfg, *sliceIndex)
		if err != nil {
			return err
		}
		thresholds = segmentation.PromptThresholds(console, os.Stdout)
	} else {
		if *seedsPath == "" {
			return errors.New("-seeds is required unless -interactive is set")
		}
		all, err := seeds.LoadSeeds(*seedsPath)
		if err != nil {
			return err
		}
		if len(all) > 0 && *sliceIndex < 0 {
			*sliceIndex = all[0].Slice
		}
		for _, s := range all {
			if s.Slice == *sliceIndex {
				picked = append(picked, s)
			}
		}
	}

	p, err := segmentation.NewPipeline(&segmentation.Params{
		Volume:     vol,
		SliceIndex: *sliceIndex,
		Seeds:      picked,
		Config:     cfg,
		MaskDir:    *maskDir,
		MaskMode:   mode,
		Thresholds: thresholds,
	}, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := p.Process(ctx); err != nil {
		return err
	}

	fmt.Printf("\nSegmentation of slice %d completed in %.2f seconds\n", *sliceIndex, time.Since(start).Seconds())
	for _, m := range segmentation.Modes {
		if o := p.Outcome(m); o != nil {
			fmt.Printf("- %-24s iterations %4d  rms %.5f  converged %v\n", m, o.Iterations, o.RMSChange, o.Converged)
		}
	}
	fmt.Printf("Mask saved to: %s\n", p.MaskPath())
	if cfg.Processing.SaveIntermediaryResults {
		fmt.Printf("Intermediary results saved to: %s\n", cfg.Processing.IntermediaryDir)
	}
	return nil
}

// askSegmentation runs the console questionnaire of the interactive
// workflow and updates cfg with the answers. Thresholds are asked later,
// once each result is known.
func askSegmentation(p *prompt.Prompter, out io.Writer, vol *models.Volume, cfg *config.Config, sliceIndex int) (int, []models.Seed, error) {
	var err error
	if sliceIndex < 0 {
		if sliceIndex, err = p.Int(fmt.Sprintf("Slice to segment [0-%d]: ", vol.Depth-1), 0, vol.Depth-1); err != nil {
			return 0, nil, err
		}
	}
	slice, err := vol.Slice(sliceIndex)
	if err != nil {
		return 0, nil, err
	}

	method, err := p.Choice("Filter (1 anisotropic diffusion, 2 recursive gaussian, 3 median): ",
		config.FilterAnisotropic, config.FilterGaussian, config.FilterMedian)
	if err != nil {
		return 0, nil, err
	}
	cfg.Filter.Method = method

	denoiser, err := segmentation.NewDenoiser(cfg)
	if err != nil {
		return 0, nil, err
	}
	denoised, err := denoiser.Apply(slice)
	if err != nil {
		return 0, nil, err
	}
	gradient, err := filters.GradientMagnitude(denoised, cfg.Feature.Sigma)
	if err != nil {
		return 0, nil, err
	}
	summary := filters.Summarize(gradient)
	fmt.Fprintf(out, "Gradient magnitude: min %.2f  max %.2f  mean %.2f  stddev %.2f\n",
		summary.Min, summary.Max, summary.Mean, summary.StdDev)
	if err := filters.Histogram(out, gradient, 20, math.Inf(1)); err != nil {
		return 0, nil, err
	}

	// sigmoid landmarks outside the gradient range are allowed
	askLandmark := func(question string) (float64, error) {
		k, err := p.Float(question, math.Inf(-1), math.Inf(1))
		if err == nil && (k < summary.Min || k > summary.Max) {
			fmt.Fprintf(out, "warning: %g is outside the gradient range [%.2f, %.2f]\n", k, summary.Min, summary.Max)
		}
		return k, err
	}
	if cfg.Feature.K1, err = askLandmark("K1 (gradient level of edges): "); err != nil {
		return 0, nil, err
	}
	if cfg.Feature.K2, err = askLandmark("K2 (gradient level inside the region): "); err != nil {
		return 0, nil, err
	}

	pairs, err := p.Pairs("Seeds as x,y pairs separated by spaces: ")
	if err != nil {
		return 0, nil, err
	}
	picked := make([]models.Seed, 0, len(pairs))
	limit := max(vol.Width, vol.Height)
	for i, xy := range pairs {
		radius, err := p.Int(fmt.Sprintf("Radius of seed %d (%d,%d): ", i, xy[0], xy[1]), 1, limit)
		if err != nil {
			return 0, nil, err
		}
		picked = append(picked, models.Seed{Row: xy[1], Col: xy[0], Slice: sliceIndex, Radius: radius})
	}

	if cfg.FastMarching.StoppingValue, err = p.Float("Fast marching stopping value: ", 1e-6, 1e9); err != nil {
		return 0, nil, err
	}
	return sliceIndex, picked, nil
}

func runCapture(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	input := fs.String("input", "", "DICOM directory, NIfTI or MetaImage volume")
	seriesUID := fs.String("series", "", "SeriesInstanceUID to load when the directory holds several series")
	output := fs.String("output", "seeds.yaml", "Seeds YAML file")
	style := fs.String("style", "arrow", "Marker style: arrow or disc")
	radius := fs.Int("radius", 5, "Disc marker radius, also assigned to every seed")
	overlayPath := fs.String("overlay", "", "Optional MetaImage shown over the slices, e.g. an earlier label map")
	previews := fs.String("previews", "", "Directory receiving a PNG of every axial slice")
	zoom := fs.Int("zoom", 2, "Zoom factor of snapshots")
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

	if *previews != "" {
		logger.WithField("dir", *previews).Info("saving slice previews")
		if err := viewer.SaveSliceSequence(vol, "z", *previews); err != nil {
			logger.WithError(err).Warn("failed to save slice previews")
		}
	}

	sv := viewer.NewSliceViewer(vol)
	sv.Zoom = max(*zoom, 1)
	if *overlayPath != "" {
		overlay, err := volumeio.ReadMHA(*overlayPath)
		if err != nil {
			return err
		}
		if err := sv.SetOverlay(overlay, nil); err != nil {
			return err
		}
	}

	markerStyle := models.Arrow()
	switch *style {
	case "arrow":
	case "disc":
		markerStyle = models.Disc(*radius)
	default:
		return errors.Errorf("unknown marker style %q", *style)
	}

	session := seeds.NewSession(seeds.NewCapture(sv, markerStyle), os.Stdin, os.Stdout, logger)
	captured, err := session.Run(ctx)
	if err != nil {
		return err
	}
	for i := range captured {
		if captured[i].Radius == 0 {
			captured[i].Radius = *radius
		}
	}

	if err := seeds.SaveSeeds(*output, captured); err != nil {
		return err
	}
	fmt.Printf("Saved %d seeds to %s\n", len(captured), *output)
	return nil
}

func runAssemble(args []string) error {
	fs := flag.NewFlagSet("assemble", flag.ExitOnError)
	masks := fs.String("masks", "masks", "Directory of per-slice .npy masks")
	reference := fs.String("reference", "", "Volume whose geometry the label map takes")
	seriesUID := fs.String("series", "", "SeriesInstanceUID to load when the directory holds several series")
	output := fs.String("output", "labelmap.mha", "Output MetaImage")
	verbose := fs.Bool("verbose", false, "Debug logging")
	fs.Parse(args)

	if *reference == "" {
		fs.Usage()
		return errors.New("-reference is required")
	}
	logger := logging.New(*verbose)

	ref, err := loadVolume(*reference, *seriesUID)
	if err != nil {
		return err
	}

	a := &labelmap.Assembler{Reference: ref, Logger: logger}
	labels, err := a.Write(*masks, *output)
	if err != nil {
		return err
	}

	labelled := 0
	for _, x := range labels.Data {
		if x != 0 {
			labelled++
		}
	}
	fmt.Printf("Label map %dx%dx%d with %d labelled voxels saved to: %s\n",
		labels.Width, labels.Height, labels.Depth, labelled, *output)
	return nil
}

func runSeries(args []string) error {
	fs := flag.NewFlagSet("series", flag.ExitOnError)
	input := fs.String("input", "", "DICOM directory")
	fs.Parse(args)

	if *input == "" {
		fs.Usage()
		return errors.New("-input is required")
	}

	list, err := volumeio.ListSeries(*input)
	if err != nil {
		return err
	}
	for _, s := range list {
		fmt.Printf("%s\t%d files\t%s\n", s.UID, len(s.Files), s.Description)
	}
	return nil
}

func runInitConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	output := fs.String("output", "liverseg.yaml", "Configuration file to write")
	fs.Parse(args)

	if err := config.CreateDefaultConfigFile(*output); err != nil {
		return err
	}
	abs, _ := filepath.Abs(*output)
	fmt.Printf("Default configuration written to: %s\n", abs)
	return nil
}
