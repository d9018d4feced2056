package seeds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"liverseg/internal/models"
	"liverseg/pkg/viewer"
)

const sessionHelp = `commands:
  up | down          scroll one slice
  click X Y          add a seed at column X, row Y
  radius I R         set the radius of seed I
  value X Y          show the pixel under X Y
  list               print captured seeds
  snapshot PATH      save the current view
  done               finish`

// Session drives a Capture from line based commands.
type Session struct {
	capture *Capture
	in      *bufio.Scanner
	out     io.Writer
	logger  *logrus.Logger
}

// NewSession reads commands from in and writes feedback to out.
func NewSession(c *Capture, in io.Reader, out io.Writer, logger *logrus.Logger) *Session {
	return &Session{
		capture: c,
		in:      bufio.NewScanner(in),
		out:     out,
		logger:  logger,
	}
}

// Run processes commands until "done" or end of input and returns the
// captured seeds. Malformed commands are reported and leave the state
// untouched.
func (s *Session) Run(ctx context.Context) ([]models.Seed, error) {
	fmt.Fprintln(s.out, sessionHelp)
	s.status()

	for s.in.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fields := strings.Fields(s.in.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "done" {
			break
		}
		if err := s.execute(fields); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			s.logger.WithField("command", fields[0]).Debugf("rejected command: %v", err)
		}
	}
	if err := s.in.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read commands")
	}

	seeds := s.capture.Seeds()
	s.logger.WithField("seeds", len(seeds)).Info("seed capture finished")
	return seeds, nil
}

func (s *Session) execute(fields []string) error {
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "up", "down":
		if len(args) != 0 {
			return errors.Errorf("usage: %s", cmd)
		}
		d := viewer.Down
		if cmd == "up" {
			d = viewer.Up
		}
		s.capture.OnScroll(d)
		s.status()

	case "click":
		x, y, err := floatPair(cmd, args)
		if err != nil {
			return err
		}
		seed, err := s.capture.OnClick(x, y)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "seed %d %v\n", len(s.capture.seeds)-1, seed)

	case "radius":
		if len(args) != 2 {
			return errors.New("usage: radius I R")
		}
		i, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.Wrap(err, "seed index")
		}
		r, err := strconv.Atoi(args[1])
		if err != nil {
			return errors.Wrap(err, "radius")
		}
		return s.capture.SetRadius(i, r)

	case "value":
		x, y, err := floatPair(cmd, args)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, s.capture.Viewer().FormatCoord(x, y))

	case "list":
		for i, seed := range s.capture.Seeds() {
			fmt.Fprintf(s.out, "%d %v\n", i, seed)
		}

	case "snapshot":
		if len(args) != 1 {
			return errors.New("usage: snapshot PATH")
		}
		if err := s.capture.Viewer().SavePNG(args[0], s.capture.Markers()); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "saved %s\n", args[0])

	case "help":
		fmt.Fprintln(s.out, sessionHelp)

	default:
		return errors.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (s *Session) status() {
	fmt.Fprintln(s.out, s.capture.Viewer().Title())
}

func floatPair(cmd string, args []string) (float64, float64, error) {
	if len(args) != 2 {
		return 0, 0, errors.Errorf("usage: %s X Y", cmd)
	}
	x, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "x")
	}
	y, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "y")
	}
	return x, y, nil
}
