package model

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// E5CodeLength is the fixed length of a student cohort code.
const E5CodeLength = 13

// e5code layout: YYYY enrolment year, L class letter, DD entry grade,
// the literal EJG and a three digit sequence number.
var e5CodePattern = regexp.MustCompile(`^(\d{4})([A-Z])(\d{2})EJG(\d{3})$`)

// E5Code is a parsed student cohort code.
type E5Code struct {
	Raw        string
	Year       int
	Letter     string
	EntryGrade int
	Sequence   int
}

// ParseE5Code validates raw and splits it into its parts.
func ParseE5Code(raw string) (E5Code, error) {
	m := e5CodePattern.FindStringSubmatch(raw)
	if m == nil {
		return E5Code{}, fmt.Errorf("e5code %q does not match YYYYLDDEJGNNN", raw)
	}
	year, _ := strconv.Atoi(m[1])
	grade, _ := strconv.Atoi(m[3])
	seq, _ := strconv.Atoi(m[4])
	if grade == 0 {
		return E5Code{}, fmt.Errorf("e5code %q has entry grade 00", raw)
	}
	return E5Code{Raw: raw, Year: year, Letter: m[2], EntryGrade: grade, Sequence: seq}, nil
}

// ClassLabel derives the class label, e.g. "11.B", for the school year
// containing now. School years start on 1 September.
func (c E5Code) ClassLabel(now time.Time) string {
	schoolYear := now.Year()
	if now.Month() < time.September {
		schoolYear--
	}
	grade := c.EntryGrade + schoolYear - c.Year
	if grade < c.EntryGrade {
		grade = c.EntryGrade
	}
	return fmt.Sprintf("%d.%s", grade, c.Letter)
}
