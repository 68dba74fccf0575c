package inject

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wonny/aegis-narrator/internal/contracts"
)

// Formatter names usable in PlaceholderSpec.Format
const (
	FormatAuto            = ""
	FormatNumber          = "number"
	FormatSigned          = "signed"
	FormatPercent         = "percent"
	FormatPercentUnsigned = "percent_unsigned"
	FormatPrice           = "price"
	FormatInteger         = "integer"
	FormatRatio           = "ratio"
	FormatLabel           = "label"
	FormatPhrase          = "phrase"
	FormatText            = "text"
)

// Formats lists every formatter name
var Formats = []string{
	FormatNumber, FormatSigned, FormatPercent, FormatPercentUnsigned, FormatPrice,
	FormatInteger, FormatRatio, FormatLabel, FormatPhrase, FormatText,
}

// IsKnownFormat reports whether name is a formatter ("" means auto)
func IsKnownFormat(name string) bool {
	if name == FormatAuto {
		return true
	}
	for _, f := range Formats {
		if f == name {
			return true
		}
	}
	return false
}

// Format renders a resolved Context value with the named formatter.
// Numbers are rendered exactly to the fact's declared precision.
func Format(format string, r contracts.Resolved) (string, error) {
	if format == FormatAuto {
		format = autoFormat(r)
	}

	switch format {
	case FormatLabel, FormatPhrase:
		if r.Kind != contracts.SourceState {
			return "", fmt.Errorf("formatter %s needs a state, got %s", format, r.Kind)
		}
		if format == FormatLabel {
			return r.Label, nil
		}
		return r.Phrase, nil
	case FormatText:
		switch r.Kind {
		case contracts.SourceBlock:
			return r.Text, nil
		case contracts.SourceState:
			return r.Phrase, nil
		}
		return "", fmt.Errorf("formatter text needs a block or state, got %s", r.Kind)
	}

	if r.Kind != contracts.SourceFact {
		return "", fmt.Errorf("formatter %s needs a fact, got %s", format, r.Kind)
	}

	switch format {
	case FormatNumber:
		return fixed(r.Number, r.Precision), nil
	case FormatSigned:
		return signed(r.Number, r.Precision), nil
	case FormatPercent:
		return signed(r.Number, r.Precision) + "%", nil
	case FormatPercentUnsigned:
		return fixed(r.Number, r.Precision) + "%", nil
	case FormatPrice:
		return grouped(r.Number, r.Precision), nil
	case FormatInteger:
		return grouped(r.Number, 0), nil
	case FormatRatio:
		return fixed(r.Number, r.Precision) + "x", nil
	default:
		return "", fmt.Errorf("unknown formatter %q", format)
	}
}

func autoFormat(r contracts.Resolved) string {
	switch r.Kind {
	case contracts.SourceState:
		return FormatLabel
	case contracts.SourceBlock:
		return FormatText
	}
	switch r.Unit {
	case "%":
		return FormatPercentUnsigned
	case "x":
		return FormatRatio
	}
	return FormatNumber
}

// fixed formats to precision and never renders negative zero
func fixed(v float64, precision int) string {
	if precision < 0 {
		precision = 0
	}
	s := strconv.FormatFloat(v, 'f', precision, 64)
	if strings.HasPrefix(s, "-") && strings.Trim(s[1:], "0.") == "" {
		s = s[1:]
	}
	return s
}

func signed(v float64, precision int) string {
	s := fixed(v, precision)
	if !strings.HasPrefix(s, "-") && strings.Trim(s, "0.") != "" {
		return "+" + s
	}
	return s
}

// grouped formats with thousands separators
func grouped(v float64, precision int) string {
	s := fixed(v, precision)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(intPart) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(intPart[:lead])
	for i := lead; i < len(intPart); i += 3 {
		b.WriteByte(',')
		b.WriteString(intPart[i : i+3])
	}
	b.WriteString(frac)
	return b.String()
}
