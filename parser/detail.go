package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scop-orders/models"
)

const (
	headerTableSelector = "table.TblFiltros"
	truckMarker         = "Placa del Camión"
	totalMarker         = "total"
)

type headerField struct {
	label string
	exact bool
	set   func(d *models.DetailRecord, v string)
}

// headerFields is matched in order against the lowercased header label.
var headerFields = []headerField{
	{label: "agente vendedor", set: func(d *models.DetailRecord, v string) { d.SellerAgent = v }},
	{label: "tipo vendedor", set: func(d *models.DetailRecord, v string) { d.SellerType = v }},
	{label: "código autorización", set: func(d *models.DetailRecord, v string) { d.AuthorizationCode = v }},
	{label: "código referencia", set: func(d *models.DetailRecord, v string) { d.ReferenceCode = cleanPlaceholder(v) }},
	{label: "estado", exact: true, set: func(d *models.DetailRecord, v string) { d.Status = v }},
	{label: "fecha pedido", set: func(d *models.DetailRecord, v string) { d.OrderDate = v }},
	{label: "tipo de pedido", set: func(d *models.DetailRecord, v string) { d.OrderType = v }},
	{label: "número factura", set: func(d *models.DetailRecord, v string) { d.InvoiceNumber = v }},
	{label: "fecha emisión de factura", set: func(d *models.DetailRecord, v string) { d.InvoiceDate = v }},
	{label: "número guia de remisión", set: func(d *models.DetailRecord, v string) { d.ShipmentGuideNumber = v }},
	{label: "número guía de remisión", set: func(d *models.DetailRecord, v string) { d.ShipmentGuideNumber = v }},
	{label: "agente comprador", set: func(d *models.DetailRecord, v string) { d.BuyerAgent = v }},
}

// ParseDetail reads the header block, the truck table and the product table of
// an order detail page. Unrecognized header labels are ignored. A page without
// any of the three blocks yields a *ParseError.
func ParseDetail(html string) (*models.DetailRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse detail html: %w", err)
	}
	return ParseDetailDocument(doc)
}

// ParseDetailDocument is ParseDetail over an already parsed document.
func ParseDetailDocument(doc *goquery.Document) (*models.DetailRecord, error) {
	out := &models.DetailRecord{Products: []models.ProductLine{}}

	foundHeader := parseHeader(doc, out)
	foundTruck := parseTruck(doc, out)
	foundProducts := parseProducts(doc, out)

	if !foundHeader && !foundTruck && !foundProducts {
		return nil, &ParseError{Reason: "detail page has no header, truck or product table"}
	}
	return out, nil
}

func parseHeader(doc *goquery.Document, out *models.DetailRecord) bool {
	table := doc.Find(headerTableSelector).First()
	if table.Length() == 0 {
		return false
	}

	out.HeaderTitle = NormalizeText(table.Find(".Celda3").First().Text())

	table.Find("tr.Fila").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find(".Celda2")
		if cells.Length() != 2 {
			return
		}
		label := strings.ToLower(NormalizeText(cells.Eq(0).Text()))
		value := NormalizeText(cells.Eq(1).Text())
		for _, f := range headerFields {
			if (f.exact && label == f.label) || (!f.exact && strings.Contains(label, f.label)) {
				f.set(out, value)
				return
			}
		}
	})
	return true
}

// parseTruck reads the innermost table mentioning the truck plate label.
func parseTruck(doc *goquery.Document, out *models.DetailRecord) bool {
	var truck *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, tb *goquery.Selection) bool {
		if !strings.Contains(tb.Text(), truckMarker) {
			return true
		}
		nested := tb.Find("table").FilterFunction(func(_ int, inner *goquery.Selection) bool {
			return strings.Contains(inner.Text(), truckMarker)
		})
		if nested.Length() > 0 {
			return true
		}
		truck = tb
		return false
	})
	if truck == nil {
		return false
	}

	cells := truck.Find("td.Celda2")
	if cells.Length() < 4 {
		return true
	}
	out.Truck.Plate = NormalizeText(cells.Eq(1).Text())

	weight := strings.Fields(NormalizeText(cells.Eq(3).Text()))
	if len(weight) > 0 {
		out.Truck.Capacity = NormalizeNumber(weight[0])
	}
	if len(weight) > 1 {
		out.Truck.Unit = NormalizeUnit(weight[len(weight)-1])
	}
	return true
}

type productTable struct {
	layout Layout
	rows   *goquery.Selection
}

func findProductTable(doc *goquery.Document) (productTable, bool) {
	var found productTable
	ok := false
	doc.Find(ResultsTableSelector).EachWithBreak(func(_ int, tb *goquery.Selection) bool {
		rows := tb.Find("tr.Fila")
		if rows.Length() == 0 {
			return true
		}
		layout := ClassifyLayout(headerTexts(rows))
		if layout == LayoutUnknown {
			return true
		}
		found = productTable{layout: layout, rows: rows}
		ok = true
		return false
	})
	return found, ok
}

// headerTexts collects header cell texts from the first one or two rows.
func headerTexts(rows *goquery.Selection) []string {
	var out []string
	limit := 2
	if rows.Length() < limit {
		limit = rows.Length()
	}
	for i := 0; i < limit; i++ {
		rows.Eq(i).Find("td.Celda, th.Celda, th").Each(func(_ int, c *goquery.Selection) {
			if text := strings.ToLower(NormalizeText(c.Text())); text != "" {
				out = append(out, text)
			}
		})
	}
	return out
}

func parseProducts(doc *goquery.Document, out *models.DetailRecord) bool {
	table, ok := findProductTable(doc)
	if !ok {
		out.Layout = LayoutUnknown.String()
		return doc.Find(ResultsTableSelector).Length() > 0
	}
	out.Layout = table.layout.String()

	var totalRow []string
	ambiguous := false
	table.rows.Slice(table.layout.HeaderRows(), table.rows.Length()).Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("td.Celda1, td.Celda").Each(func(_ int, c *goquery.Selection) {
			cells = append(cells, NormalizeText(c.Text()))
		})
		if len(cells) == 0 {
			return
		}
		if strings.Contains(strings.ToLower(strings.Join(cells, " ")), totalMarker) {
			totalRow = cells
			return
		}
		product, complete := table.layout.MapProduct(cells)
		if product == (models.ProductLine{}) {
			return
		}
		if !complete {
			ambiguous = true
		}
		out.Products = append(out.Products, product)
	})

	out.Totals = deriveTotals(out.Products, totalRow, ambiguous)
	return true
}

// deriveTotals sums the parsed product quantities. When the product rows do not
// line up with the layout, the last two numeric cells of the portal's total row
// are used instead and the result is flagged as low confidence.
func deriveTotals(products []models.ProductLine, totalRow []string, ambiguous bool) models.Totals {
	if len(products) > 0 && !ambiguous {
		var ordered, subtotal float64
		summable := true
		for _, p := range products {
			o, okO := sumOperand(p.OrderedQty)
			s, okS := sumOperand(p.SubtotalWeight)
			if !okO || !okS {
				summable = false
				break
			}
			ordered += o
			subtotal += s
		}
		if summable {
			return models.Totals{
				OrderedQty:     FormatQuantity(ordered),
				SubtotalWeight: FormatQuantity(subtotal),
				Source:         models.TotalsFromProducts,
			}
		}
	}

	if totalRow == nil {
		return models.Totals{}
	}
	var nums []string
	for _, c := range totalRow {
		if looksNumeric(c) {
			nums = append(nums, NormalizeNumber(c))
		}
	}
	if len(nums) == 0 {
		return models.Totals{}
	}
	t := models.Totals{
		SubtotalWeight: nums[len(nums)-1],
		Source:         models.TotalsFromTotalRow,
		LowConfidence:  true,
	}
	if len(nums) > 1 {
		t.OrderedQty = nums[len(nums)-2]
	}
	return t
}

// sumOperand treats an empty quantity as zero and rejects non-numeric text.
func sumOperand(s string) (float64, bool) {
	if s == "" {
		return 0, true
	}
	return ParseQuantity(s)
}
