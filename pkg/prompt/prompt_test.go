package prompt

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestChoiceRetries(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader("7\nabc\n2\n"), &out)

	got, err := p.Choice("filter [1-3]: ", 1, 2, 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != 2 {
		t.Errorf("Expected 2, got %d", got)
	}
	if n := strings.Count(out.String(), "invalid answer"); n != 2 {
		t.Errorf("Expected 2 retries, got %d", n)
	}
}

func TestChoiceGivesUp(t *testing.T) {
	p := New(strings.NewReader("0\n0\n0\n"), &bytes.Buffer{})
	p.Attempts = 3

	if _, err := p.Choice("filter: ", 1, 2, 3); errors.Cause(err) != ErrAttempts {
		t.Errorf("Expected ErrAttempts, got %v", err)
	}
}

func TestEOFIsAnError(t *testing.T) {
	p := New(strings.NewReader(""), &bytes.Buffer{})
	if _, err := p.Float("sigma: ", 0, 10); err == nil {
		t.Error("Expected error at end of input")
	}
}

func TestFloatAndIntRanges(t *testing.T) {
	p := New(strings.NewReader("-1\n2.5\n11\n4"), &bytes.Buffer{})

	f, err := p.Float("sigma: ", 0, 10)
	if err != nil || f != 2.5 {
		t.Errorf("Expected 2.5, got %g (%v)", f, err)
	}
	n, err := p.Int("iterations: ", 1, 10)
	if err != nil || n != 4 {
		t.Errorf("Expected 4, got %d (%v)", n, err)
	}
}

func TestPairs(t *testing.T) {
	p := New(strings.NewReader("12;4\n120,85 130,90\n"), &bytes.Buffer{})

	pairs, err := p.Pairs("seeds: ")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(pairs) != 2 || pairs[0] != [2]int{120, 85} || pairs[1] != [2]int{130, 90} {
		t.Errorf("Unexpected pairs %v", pairs)
	}
}

func TestFloatRejectsNonFinite(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader("NaN\ninf\n-1e400\n-3.25\n"), &out)

	f, err := p.Float("k2: ", math.Inf(-1), math.Inf(1))
	if err != nil || f != -3.25 {
		t.Errorf("Expected -3.25, got %g (%v)", f, err)
	}
	if n := strings.Count(out.String(), "not a finite number"); n != 2 {
		t.Errorf("Expected 2 non-finite answers rejected, got %d", n)
	}
}
