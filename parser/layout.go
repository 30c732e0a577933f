package parser

import (
	"strings"

	"github.com/aluiziolira/go-scop-orders/models"
)

// Layout is the product table schema of a detail page.
type Layout int

const (
	LayoutUnknown Layout = iota
	// LayoutEnvasado: packaged product; product, brand, ordered qty, subtotal weight, status.
	LayoutEnvasado
	// LayoutGranelSimple: bulk product with requested/accepted quantity columns.
	LayoutGranelSimple
	// LayoutGranelCompuesto: bulk product with transport and quantity column groups
	// spread over two header rows.
	LayoutGranelCompuesto
)

func (l Layout) String() string {
	switch l {
	case LayoutEnvasado:
		return "envasado"
	case LayoutGranelSimple:
		return "granel-simple"
	case LayoutGranelCompuesto:
		return "granel-compuesto"
	default:
		return "unknown"
	}
}

// HeaderRows is the number of leading table rows that hold column headers.
func (l Layout) HeaderRows() int {
	if l == LayoutGranelCompuesto {
		return 2
	}
	return 1
}

// width is the minimum number of cells a well-formed product row has.
func (l Layout) width() int {
	switch l {
	case LayoutEnvasado:
		return 5
	case LayoutGranelSimple:
		return 8
	case LayoutGranelCompuesto:
		return 8
	default:
		return 0
	}
}

// ClassifyLayout picks the layout from the lowercased header cell texts of the
// first one or two rows of a product table.
func ClassifyLayout(headers []string) Layout {
	has := func(marker string) bool {
		for _, h := range headers {
			if strings.Contains(h, marker) {
				return true
			}
		}
		return false
	}

	switch {
	case has("transporte") && has("cantidad"):
		return LayoutGranelCompuesto
	case has("solicitada") || has("aceptada"):
		return LayoutGranelSimple
	case has("producto") && has("marca") && !has("transporte"):
		return LayoutEnvasado
	default:
		return LayoutUnknown
	}
}

// MapProduct maps the normalized cell texts of one product row. The second
// return value is false when the row is narrower than the layout expects.
func (l Layout) MapProduct(cells []string) (models.ProductLine, bool) {
	at := func(i int) string {
		if i < len(cells) {
			return cleanPlaceholder(cells[i])
		}
		return ""
	}
	num := func(i int) string {
		return NormalizeNumber(at(i))
	}

	var p models.ProductLine
	switch l {
	case LayoutEnvasado:
		p = models.ProductLine{
			Product:        at(0),
			Brand:          at(1),
			OrderedQty:     num(2),
			SubtotalWeight: num(3),
			Status:         at(4),
		}
	case LayoutGranelSimple:
		p = models.ProductLine{
			Product:        at(0),
			Brand:          at(1),
			OrderedQty:     num(2),
			AcceptedQty:    num(3),
			SoldQty:        num(4),
			ReceivedQty:    num(5),
			SubtotalWeight: num(6),
			Status:         at(7),
		}
	case LayoutGranelCompuesto:
		// Column 2 is the transport group; quantities start at 3.
		p = models.ProductLine{
			Product:        at(0),
			Brand:          at(1),
			OrderedQty:     num(3),
			AcceptedQty:    num(4),
			SoldQty:        num(5),
			ReceivedQty:    num(6),
			SubtotalWeight: num(7),
			Status:         trailingStatus(cells, 8),
		}
	default:
		return p, false
	}
	return p, len(cells) >= l.width()
}

// trailingStatus returns the last non-empty, non-numeric cell at or after from.
func trailingStatus(cells []string, from int) string {
	for i := len(cells) - 1; i >= from; i-- {
		c := cleanPlaceholder(cells[i])
		if c == "" || looksNumeric(c) {
			continue
		}
		return c
	}
	return ""
}
