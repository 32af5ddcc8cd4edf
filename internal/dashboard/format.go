package dashboard

import (
	"fmt"
	"strings"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatTonnes formats an emission in tonnes CO2 with two decimals and
// thousands separators, e.g. "12,345.67 t".
func FormatTonnes(v float64) string {
	return formatFixed(v) + " t"
}

// FormatMW formats a generation figure, switching to GW from 10,000 MW.
func FormatMW(v float64) string {
	if v >= 10_000 {
		return fmt.Sprintf("%.1f GW", v/1000)
	}
	return formatFixed(v) + " MW"
}

// FormatShare formats a percentage as "X.X%", or "-" for zero.
func FormatShare(p float64) string {
	if p == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", p)
}

func formatFixed(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	whole, frac, _ := strings.Cut(s, ".")
	var n int
	fmt.Sscanf(whole, "%d", &n)
	out := FormatInt(n)
	if n == 0 && strings.HasPrefix(whole, "-") {
		out = "-0"
	}
	return out + "." + frac
}
