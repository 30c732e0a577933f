// Package parser maps SCOP portal HTML into normalized order records.
package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scop-orders/models"
)

const (
	// ResultsTableSelector matches the listing and product tables.
	ResultsTableSelector = "table.TblResultado"

	listingCells = 9
)

// ParseError reports that an expected table or selector was not present.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse: " + e.Reason
}

// RowError records a listing row that could not be mapped.
type RowError struct {
	Index int // 1-based position among the table's data rows
	Cells int
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: insufficient cells (%d)", e.Index, e.Cells)
}

// Listing is the parsed content of the results table.
type Listing struct {
	Rows      []*models.ListingRow
	RowErrors []RowError
}

// ParseListing extracts the nine fixed-position columns of every data row of the
// results table. Rows with fewer than nine cells are reported in RowErrors and
// skipped. A missing table, a table without rows or a table without any valid
// row yields a *ParseError.
func ParseListing(html string) (*Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	return ParseListingDocument(doc)
}

// ParseListingDocument is ParseListing over an already parsed document.
func ParseListingDocument(doc *goquery.Document) (*Listing, error) {
	table := doc.Find(ResultsTableSelector).First()
	if table.Length() == 0 {
		return nil, &ParseError{Reason: "results table not found"}
	}

	rows := table.Find("tr.Fila")
	if rows.Length() == 0 {
		return nil, &ParseError{Reason: "results table has no data rows"}
	}

	out := &Listing{}
	rows.Each(func(i int, tr *goquery.Selection) {
		cells := tr.Find("td.Celda1")
		if cells.Length() < listingCells {
			out.RowErrors = append(out.RowErrors, RowError{Index: i + 1, Cells: cells.Length()})
			return
		}
		text := func(idx int) string {
			return NormalizeText(cells.Eq(idx).Text())
		}
		out.Rows = append(out.Rows, &models.ListingRow{
			AuthorizationCode: text(0),
			ReferenceCode:     text(1),
			Buyer:             text(2),
			Seller:            text(3),
			OrderType:         text(4),
			Channel:           text(5),
			OrderDate:         text(6),
			DeliveryDate:      text(7),
			Status:            text(8),
		})
	})

	if len(out.Rows) == 0 {
		return out, &ParseError{Reason: "results table has no valid rows"}
	}
	return out, nil
}
