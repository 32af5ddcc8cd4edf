package nsmo

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"

	"gridcarbon/internal/domain"
)

// sourceLabels lists the operator's source labels with their category keys.
var sourceLabels = []struct {
	label string
	key   domain.Category
}{
	{"Thủy điện", domain.Hydro},
	{"Nhiệt điện than", domain.Coal},
	{"Tuabin khí (Gas + Dầu DO)", domain.GasOilTurbine},
	{"Nhiệt điện dầu", domain.OilThermal},
	{"Điện gió", domain.Wind},
	{"ĐMT trang trại", domain.SolarFarm},
	{"ĐMT mái nhà (ước tính thương phẩm)", domain.RooftopSolarCommercial},
	{"ĐMT mái nhà (ước tính đầu cực)", domain.RooftopSolarTerminal},
	{"Nhập khẩu điện", domain.Import},
	{"Khác (Sinh khối, Diesel Nam, …)", domain.OtherBiomassDiesel},
}

// labelKeys is keyed by the NFC form of each label.
var labelKeys = func() map[string]domain.Category {
	m := make(map[string]domain.Category, len(sourceLabels))
	for _, s := range sourceLabels {
		m[norm.NFC.String(s.label)] = s.key
	}
	return m
}()

// CategoryFor returns the category key for a source label. Unknown labels
// are returned cleaned but otherwise unchanged.
func CategoryFor(label string) string {
	label = cleanLabel(label)
	if key, ok := labelKeys[label]; ok {
		return string(key)
	}
	return label
}

// cleanLabel strips the leading "- " marker, collapses whitespace and
// normalizes to NFC.
func cleanLabel(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "- ")
	s = strings.Join(strings.Fields(s), " ")
	return norm.NFC.String(s)
}

// parseValue parses a finite numeric cell, accepting a decimal comma.
func parseValue(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Extract parses one day's page into a record. The page lists one source
// per row: a div whose class starts with "row py-2", holding "col px-5"
// cells for the label and the value. Rows whose value is not numeric are
// skipped. It returns false when no row yields a metric.
func Extract(payload []byte, day string) (domain.DayRecord, bool) {
	doc, err := html.Parse(bytes.NewReader(payload))
	if err != nil {
		return domain.DayRecord{}, false
	}

	metrics := make(map[string]float64)
	for _, row := range findAll(doc, isMetricRow) {
		cells := findAll(row, isValueCell)
		if len(cells) < 2 {
			continue
		}
		name := cleanLabel(textOf(cells[0]))
		if name == "" {
			continue
		}
		v, ok := parseValue(textOf(cells[1]))
		if !ok {
			continue
		}
		metrics[CategoryFor(name)] = v
	}

	if len(metrics) == 0 {
		return domain.DayRecord{}, false
	}
	return domain.DayRecord{
		Day:      day,
		Metrics:  metrics,
		Emission: domain.Emission(metrics),
	}, true
}

// ---------------------------------------------------------------------------
// HTML helpers
// ---------------------------------------------------------------------------

func isMetricRow(n *html.Node) bool {
	if n.DataAtom != atom.Div {
		return false
	}
	class := strings.Join(strings.Fields(getAttr(n, "class")), " ")
	return strings.HasPrefix(class, "row py-2")
}

func isValueCell(n *html.Node) bool {
	if n.DataAtom != atom.Div {
		return false
	}
	classes := strings.Fields(getAttr(n, "class"))
	var col, px bool
	for _, c := range classes {
		switch c {
		case "col":
			col = true
		case "px-5":
			px = true
		}
	}
	return col && px
}

// findAll returns the descendants of root matching fn in document order,
// without descending into matches.
func findAll(root *html.Node, fn func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && fn(c) {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// textOf concatenates the text under n, trimmed.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
