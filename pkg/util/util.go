// Package util contains some methods and constants that can be used by every
// other package.
package util

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml"
)

// Boltzmann is the Boltzmann constant in kJ/mol/K.
const Boltzmann = 0.008314462618

// Write writes the output file according to a specific scheme. It writes the
// date, parses the structure in a TOML format and writes it. This method
// returns the file for further writing. It must be closed at the end of the
// calculation.
func Write(path string, structure interface{}) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(f, "# Date: %v\n", time.Now().Format("2006-01-02 15:04:05 -0700 MST"))

	b, err := toml.Marshal(structure)
	if err != nil {
		f.Close()
		return nil, err
	}
	for _, l := range splitLines(b) {
		fmt.Fprintf(f, "# %s\n", l)
	}

	f.Write([]byte{'\n'})
	return f, nil
}

// splitLines returns the non empty lines of b.
func splitLines(b []byte) []string {
	var (
		lines []string
		start int
	)
	for i, c := range b {
		if c != '\n' {
			continue
		}
		if i > start {
			lines = append(lines, string(b[start:i]))
		}
		start = i + 1
	}
	if start < len(b) {
		lines = append(lines, string(b[start:]))
	}
	return lines
}

// Pow returns x**n, the base-x exponential of n. n must be positive.
func Pow(x float64, n int) float64 {
	res := x
	for i := 0; i < (n - 1); i++ {
		res *= x
	}
	return res
}
