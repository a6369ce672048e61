package sim

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/foshlabs/OrientationFilter/ahrs"
)

// NewSituationFromFile loads a Situation from a CSV file of breakpoints.
// See ReadSituation for the format.
func NewSituationFromFile(fn string) (*Situation, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	defer f.Close()
	return ReadSituation(bufio.NewReader(f))
}

// ReadSituation reads breakpoints from CSV with a header row naming the
// columns T (s) and Roll, Pitch, Heading (degrees). Missing angle columns
// are taken as zero; other columns are ignored.
func ReadSituation(r io.Reader) (*Situation, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	rec, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("sim: reading header: %w", err)
	}
	fields := make(map[string]int)
	for i, k := range rec {
		fields[strings.TrimSpace(k)] = i
	}
	if _, ok := fields["T"]; !ok {
		return nil, fmt.Errorf("sim: header has no T column")
	}

	var t, phi, theta, psi []float64
	get := func(rec []string, k string, scale float64) (float64, error) {
		i, ok := fields[k]
		if !ok {
			return 0, nil
		}
		if i >= len(rec) {
			return 0, fmt.Errorf("missing %s", k)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		return v * scale, err
	}

	for line := 2; ; line++ {
		rec, err = cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("sim: line %d: %w", line, err)
		}
		var v [4]float64
		for j, k := range [4]string{"T", "Roll", "Pitch", "Heading"} {
			scale := ahrs.Deg
			if k == "T" {
				scale = 1
			}
			if v[j], err = get(rec, k, scale); err != nil {
				return nil, fmt.Errorf("sim: line %d: %w", line, err)
			}
		}
		t = append(t, v[0])
		phi = append(phi, v[1])
		theta = append(theta, v[2])
		psi = append(psi, v[3])
	}
	return NewSituation(t, phi, theta, psi)
}
