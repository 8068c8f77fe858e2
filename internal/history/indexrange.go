package history

import (
	"strconv"
	"strings"

	"github.com/KevinKickass/EndpointRegistry/internal/types"
)

// Dimension selects a single index (Low == High) or the inclusive range Low:High.
type Dimension struct {
	Low  uint32
	High uint32
}

// NumericRange is a parsed index range such as "1:2,0:1". The zero value selects everything.
type NumericRange []Dimension

// ParseIndexRange parses comma separated dimensions, each "n" or "lo:hi" with lo < hi.
func ParseIndexRange(s string) (NumericRange, error) {
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	out := make(NumericRange, 0, len(parts))
	for _, part := range parts {
		dim, err := parseDimension(part)
		if err != nil {
			return nil, types.Errorf(types.KindInvalidIndexRange, "parse index range", "%q: %v", s, err)
		}
		out = append(out, dim)
	}
	return out, nil
}

func parseDimension(part string) (Dimension, error) {
	lo, hi, isRange := strings.Cut(part, ":")
	low, err := parseIndex(lo)
	if err != nil {
		return Dimension{}, err
	}
	if !isRange {
		return Dimension{Low: low, High: low}, nil
	}
	high, err := parseIndex(hi)
	if err != nil {
		return Dimension{}, err
	}
	if low >= high {
		return Dimension{}, &rangeOrderError{low: low, high: high}
	}
	return Dimension{Low: low, High: high}, nil
}

func parseIndex(s string) (uint32, error) {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, strconv.ErrSyntax
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

type rangeOrderError struct {
	low, high uint32
}

func (e *rangeOrderError) Error() string {
	return "lower bound " + strconv.FormatUint(uint64(e.low), 10) +
		" is not below upper bound " + strconv.FormatUint(uint64(e.high), 10)
}

func (r NumericRange) IsEmpty() bool {
	return len(r) == 0
}

// String renders r in the form accepted by ParseIndexRange.
func (r NumericRange) String() string {
	var b strings.Builder
	for i, d := range r {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(d.Low), 10))
		if d.High != d.Low {
			b.WriteByte(':')
			b.WriteString(strconv.FormatUint(uint64(d.High), 10))
		}
	}
	return b.String()
}
