package species

import (
	"fmt"
	"strings"
)

// Isotope is an isotope of an element. BoundCoherent is the bound coherent
// neutron scattering length in fm.
type Isotope struct {
	Element       string
	Name          string
	BoundCoherent float64
}

// Element holds the mass (g/mol) and the natural isotope of an element.
type Element struct {
	Symbol   string
	Mass     float64
	Natural  float64
	isotopes map[string]float64
}

// Scattering lengths from the NIST neutron scattering length tables.
var elements = map[string]Element{
	"H":  {"H", 1.008, -3.739, map[string]float64{"1": -3.7406, "2": 6.671, "3": 4.792}},
	"D":  {"D", 2.014, 6.671, nil},
	"Li": {"Li", 6.94, -1.90, map[string]float64{"6": 2.0, "7": -2.22}},
	"B":  {"B", 10.81, 5.30, map[string]float64{"10": -0.1, "11": 6.65}},
	"C":  {"C", 12.011, 6.6460, map[string]float64{"12": 6.6511, "13": 6.19}},
	"N":  {"N", 14.007, 9.36, map[string]float64{"14": 9.37, "15": 6.44}},
	"O":  {"O", 15.999, 5.803, map[string]float64{"16": 5.803, "17": 5.78, "18": 5.84}},
	"F":  {"F", 18.998, 5.654, nil},
	"Ne": {"Ne", 20.180, 4.566, nil},
	"Na": {"Na", 22.990, 3.63, nil},
	"Mg": {"Mg", 24.305, 5.375, nil},
	"Si": {"Si", 28.085, 4.1491, nil},
	"P":  {"P", 30.974, 5.13, nil},
	"S":  {"S", 32.06, 2.847, nil},
	"Cl": {"Cl", 35.45, 9.577, map[string]float64{"35": 11.65, "37": 3.08}},
	"Ar": {"Ar", 39.948, 1.909, map[string]float64{"36": 24.90, "40": 1.830}},
	"K":  {"K", 39.098, 3.67, nil},
	"Ca": {"Ca", 40.078, 4.70, nil},
	"Br": {"Br", 79.904, 6.795, nil},
	"Kr": {"Kr", 83.798, 7.81, nil},
	"I":  {"I", 126.90, 5.28, nil},
	"Xe": {"Xe", 131.29, 4.92, nil},
}

// LookupElement returns the element with the given symbol.
func LookupElement(symbol string) (Element, error) {
	e, ok := elements[symbol]
	if !ok {
		return Element{}, fmt.Errorf("unknown element `%s`", symbol)
	}
	return e, nil
}

// NaturalIsotope returns the natural abundance isotope of an element.
func NaturalIsotope(symbol string) (Isotope, error) {
	e, err := LookupElement(symbol)
	if err != nil {
		return Isotope{}, err
	}
	return Isotope{Element: symbol, Name: "natural", BoundCoherent: e.Natural}, nil
}

// LookupIsotope returns an isotope given as "natural", a mass number ("2") or
// a custom scattering length written as "b=<fm>".
func LookupIsotope(symbol, name string) (Isotope, error) {
	if name == "" || strings.EqualFold(name, "natural") {
		return NaturalIsotope(symbol)
	}

	var b float64
	if n, _ := fmt.Sscanf(name, "b=%g", &b); n == 1 {
		return Isotope{Element: symbol, Name: name, BoundCoherent: b}, nil
	}

	e, err := LookupElement(symbol)
	if err != nil {
		return Isotope{}, err
	}
	b, ok := e.isotopes[name]
	if !ok {
		return Isotope{}, fmt.Errorf("unknown isotope `%s` of element `%s`", name, symbol)
	}
	return Isotope{Element: symbol, Name: name, BoundCoherent: b}, nil
}
