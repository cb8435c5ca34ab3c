// Package speech renders numeric values as phrases a text-to-speech engine
// reads naturally, e.g. 2.5 degrees as "plus två komma fem grader".
package speech

import (
	"math"
	"strconv"
	"strings"
)

// Locale holds the words used when speaking numbers.
type Locale struct {
	Code           string
	Plus           string
	Minus          string
	Point          string
	Degree         string
	Degrees        string
	Unknown        string
	integerToWords func(n int) string
}

var (
	Swedish = Locale{
		Code:           "sv",
		Plus:           "plus",
		Minus:          "minus",
		Point:          "komma",
		Degree:         "grad",
		Degrees:        "grader",
		Unknown:        "okänd temperatur",
		integerToWords: swedishInteger,
	}
	English = Locale{
		Code:           "en",
		Plus:           "plus",
		Minus:          "minus",
		Point:          "point",
		Degree:         "degree",
		Degrees:        "degrees",
		Unknown:        "unknown temperature",
		integerToWords: englishInteger,
	}
)

// LocaleFor returns the locale matching code, Swedish when unknown.
func LocaleFor(code string) Locale {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "en", "en-us", "en-gb", "english":
		return English
	default:
		return Swedish
	}
}

// Formatter speaks numbers in one locale.
type Formatter struct {
	locale Locale
}

func NewFormatter(locale Locale) *Formatter {
	return &Formatter{locale: locale}
}

// Locale returns the formatter's locale.
func (f *Formatter) Locale() Locale {
	return f.locale
}

// Number spells out v. The integer part is written in words, each decimal
// digit is read individually and a trailing ".0" is dropped.
func (f *Formatter) Number(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return f.locale.Unknown
	}
	abs := math.Abs(v)
	text := strconv.FormatFloat(abs, 'f', -1, 64)

	intPart, fracPart, _ := strings.Cut(text, ".")
	n, err := strconv.Atoi(intPart)
	if err != nil {
		return text
	}

	words := f.locale.integerToWords(n)
	if fracPart == "" {
		return words
	}

	digits := make([]string, 0, len(fracPart))
	for _, d := range fracPart {
		digits = append(digits, f.locale.integerToWords(int(d-'0')))
	}
	return words + " " + f.locale.Point + " " + strings.Join(digits, " ")
}

// Temperature speaks a signed temperature: "minus tio grader".
// Every decimal digit of v is read out. Zero is spoken without a sign.
func (f *Formatter) Temperature(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return f.locale.Unknown
	}
	unit := f.locale.Degrees
	if math.Abs(v) == 1 {
		unit = f.locale.Degree
	}

	spoken := f.Number(v)
	switch {
	case v > 0:
		return f.locale.Plus + " " + spoken + " " + unit
	case v < 0:
		return f.locale.Minus + " " + spoken + " " + unit
	default:
		return spoken + " " + unit
	}
}

// TemperatureString parses s and speaks it; unparseable input is returned unchanged.
func (f *Formatter) TemperatureString(s string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ",", ".")), 64)
	if err != nil {
		return s
	}
	return f.Temperature(v)
}

var svOnes = []string{
	"noll", "ett", "två", "tre", "fyra", "fem", "sex", "sju", "åtta", "nio",
	"tio", "elva", "tolv", "tretton", "fjorton", "femton", "sexton", "sjutton", "arton", "nitton",
}

var svTens = []string{"", "", "tjugo", "trettio", "fyrtio", "femtio", "sextio", "sjuttio", "åttio", "nittio"}

func swedishInteger(n int) string {
	switch {
	case n < 20:
		return svOnes[n]
	case n < 100:
		if n%10 == 0 {
			return svTens[n/10]
		}
		return svTens[n/10] + svOnes[n%10]
	case n < 1000:
		head := svOnes[n/100] + "hundra"
		if n%100 == 0 {
			return head
		}
		return head + swedishInteger(n%100)
	default:
		return strconv.Itoa(n)
	}
}

var enOnes = []string{
	"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
	"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
}

var enTens = []string{"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety"}

func englishInteger(n int) string {
	switch {
	case n < 20:
		return enOnes[n]
	case n < 100:
		if n%10 == 0 {
			return enTens[n/10]
		}
		return enTens[n/10] + "-" + enOnes[n%10]
	case n < 1000:
		head := enOnes[n/100] + " hundred"
		if n%100 == 0 {
			return head
		}
		return head + " " + englishInteger(n%100)
	default:
		return strconv.Itoa(n)
	}
}
