// Package prompt asks for validated values on a console.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultAttempts bounds how often a question is repeated.
const DefaultAttempts = 5

// ErrAttempts is returned when no valid answer was given in time.
var ErrAttempts = errors.New("no valid answer")

// Prompter reads answers line by line.
type Prompter struct {
	in       *bufio.Reader
	out      io.Writer
	Attempts int
}

// New returns a Prompter reading from in and writing questions to out.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out, Attempts: DefaultAttempts}
}

func (p *Prompter) line(question string) (string, error) {
	fmt.Fprint(p.out, question)
	s, err := p.in.ReadString('\n')
	if err == io.EOF && s != "" {
		err = nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read answer")
	}
	return strings.TrimSpace(s), nil
}

// ask repeats question until parse accepts the answer.
func (p *Prompter) ask(question string, parse func(string) error) error {
	for i := 0; i < max(p.Attempts, 1); i++ {
		answer, err := p.line(question)
		if err != nil {
			return err
		}
		if err := parse(answer); err != nil {
			fmt.Fprintf(p.out, "invalid answer: %v\n", err)
			continue
		}
		return nil
	}
	return errors.Wrap(ErrAttempts, question)
}

// Choice asks until one of allowed is entered.
func (p *Prompter) Choice(question string, allowed ...int) (int, error) {
	var choice int
	err := p.ask(question, func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.Errorf("%q is not a number", s)
		}
		for _, a := range allowed {
			if n == a {
				choice = n
				return nil
			}
		}
		return errors.Errorf("choose one of %v", allowed)
	})
	return choice, err
}

// Float asks for a finite number in [low, high]. Infinite bounds leave that
// side open.
func (p *Prompter) Float(question string, low, high float64) (float64, error) {
	var value float64
	err := p.ask(question, func(s string) error {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errors.Errorf("%q is not a number", s)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.Errorf("%q is not a finite number", s)
		}
		if f < low || f > high {
			return errors.Errorf("%g is outside [%g, %g]", f, low, high)
		}
		value = f
		return nil
	})
	return value, err
}

// Int asks for an integer in [low, high].
func (p *Prompter) Int(question string, low, high int) (int, error) {
	var value int
	err := p.ask(question, func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.Errorf("%q is not an integer", s)
		}
		if n < low || n > high {
			return errors.Errorf("%d is outside [%d, %d]", n, low, high)
		}
		value = n
		return nil
	})
	return value, err
}

// Pairs asks for whitespace separated x,y coordinates, for example
// "120,85 130,90".
func (p *Prompter) Pairs(question string) ([][2]int, error) {
	var pairs [][2]int
	err := p.ask(question, func(s string) error {
		pairs = pairs[:0]
		for _, field := range strings.Fields(s) {
			parts := strings.Split(field, ",")
			if len(parts) != 2 {
				return errors.Errorf("%q is not x,y", field)
			}
			x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
			if err != nil {
				return errors.Errorf("%q is not x,y", field)
			}
			y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err != nil {
				return errors.Errorf("%q is not x,y", field)
			}
			pairs = append(pairs, [2]int{x, y})
		}
		if len(pairs) == 0 {
			return errors.New("at least one pair is required")
		}
		return nil
	})
	return pairs, err
}
