package parser

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/aluiziolira/go-scop-orders/models"
	"github.com/google/go-cmp/cmp"
)

func TestClassifyLayout(t *testing.T) {
	tests := []struct {
		name     string
		headers  []string
		expected Layout
	}{
		{name: "envasado", headers: []string{"producto", "marca", "cantidad", "subtotal (kg)", "estado"}, expected: LayoutEnvasado},
		{name: "granel simple", headers: []string{"producto", "marca", "cant. solicitada", "cant. aceptada"}, expected: LayoutGranelSimple},
		{name: "granel compuesto", headers: []string{"producto", "transporte", "cantidad", "pedida", "aceptada"}, expected: LayoutGranelCompuesto},
		{name: "transport without quantity", headers: []string{"producto", "marca", "transporte"}, expected: LayoutUnknown},
		{name: "transport column rules out envasado", headers: []string{"producto", "marca", "transporte", "subtotal (kg)", "estado"}, expected: LayoutUnknown},
		{name: "unknown", headers: []string{"documento", "fecha"}, expected: LayoutUnknown},
		{name: "empty", headers: nil, expected: LayoutUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyLayout(tt.headers); got != tt.expected {
				t.Errorf("ClassifyLayout(%v) = %v, want %v", tt.headers, got, tt.expected)
			}
		})
	}
}

func TestParseDetailHeaderAndTruck(t *testing.T) {
	detail, err := ParseDetail(readFixture(t, "detail_envasado.html"))
	if err != nil {
		t.Fatalf("ParseDetail: %v", err)
	}

	want := models.DetailRecord{
		HeaderTitle:         "DETALLE DE ORDEN DE PEDIDO",
		SellerAgent:         "PLANTA GLP CENTRAL",
		SellerType:          "PLANTA",
		AuthorizationCode:   "60825331621",
		ReferenceCode:       "",
		Status:              "SOLICITADO",
		OrderDate:           "27/01/2025",
		OrderType:           "NORMAL",
		InvoiceNumber:       "F001-123",
		InvoiceDate:         "28/01/2025",
		ShipmentGuideNumber: "T001-9",
		BuyerAgent:          "EMPRESA PRUEBA S.A.C.",
		Truck:               models.Truck{Plate: "XYZ-789", Capacity: "12000", Unit: "KG"},
		Layout:              "envasado",
		Products: []models.ProductLine{
			{Product: "BALON 10KG", Brand: "SOLGAS", OrderedQty: "20", SubtotalWeight: "200", Status: "SOLICITADO"},
			{Product: "BALON 45KG", Brand: "SOLGAS", OrderedQty: "2", SubtotalWeight: "90", Status: "SOLICITADO"},
		},
		Totals: models.Totals{OrderedQty: "22", SubtotalWeight: "290", Source: models.TotalsFromProducts},
	}
	if diff := cmp.Diff(want, *detail); diff != "" {
		t.Fatalf("detail mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDetailGranelSimple(t *testing.T) {
	detail, err := ParseDetail(readFixture(t, "detail_granel_simple.html"))
	if err != nil {
		t.Fatalf("ParseDetail: %v", err)
	}
	if detail.Layout != LayoutGranelSimple.String() {
		t.Fatalf("layout = %q", detail.Layout)
	}
	want := []models.ProductLine{{
		Product:        "GLP GRANEL",
		Brand:          "NINGUNA",
		OrderedQty:     "8000",
		AcceptedQty:    "8000",
		SoldQty:        "0",
		ReceivedQty:    "0",
		SubtotalWeight: "8000",
		Status:         "SOLICITADO",
	}}
	if diff := cmp.Diff(want, detail.Products); diff != "" {
		t.Fatalf("products mismatch (-want +got):\n%s", diff)
	}
	if detail.Totals.OrderedQty != "8000" || detail.Totals.SubtotalWeight != "8000" {
		t.Fatalf("totals = %+v", detail.Totals)
	}
}

func TestParseDetailGranelCompuestoTotalsFromProducts(t *testing.T) {
	detail, err := ParseDetail(readFixture(t, "detail_granel_compuesto.html"))
	if err != nil {
		t.Fatalf("ParseDetail: %v", err)
	}
	if detail.Layout != LayoutGranelCompuesto.String() {
		t.Fatalf("layout = %q", detail.Layout)
	}
	if len(detail.Products) != 3 {
		t.Fatalf("products = %d, want 3", len(detail.Products))
	}

	var sum float64
	for _, p := range detail.Products {
		for _, field := range []string{p.Product, p.Brand, p.Status} {
			if strings.Contains(strings.ToLower(field), "total") {
				t.Fatalf("product line leaked total row: %+v", p)
			}
		}
		v, err := strconv.ParseFloat(p.OrderedQty, 64)
		if err != nil {
			t.Fatalf("ordered qty %q: %v", p.OrderedQty, err)
		}
		sum += v
	}
	if detail.Totals.OrderedQty != FormatQuantity(sum) {
		t.Fatalf("totals ordered = %q, want %q", detail.Totals.OrderedQty, FormatQuantity(sum))
	}
	if detail.Totals.SubtotalWeight != "7500.5" {
		t.Fatalf("totals subtotal = %q, want 7500.5", detail.Totals.SubtotalWeight)
	}
	if detail.Totals.LowConfidence || detail.Totals.Source != models.TotalsFromProducts {
		t.Fatalf("totals should come from products: %+v", detail.Totals)
	}
	if got := detail.Products[2].Status; got != "SOLICITADO" {
		t.Fatalf("trailing status = %q", got)
	}
	if got := detail.Products[0].SubtotalWeight; got != "4000.50" {
		t.Fatalf("subtotal = %q", got)
	}
}

func TestParseDetailUnknownLayoutKeepsHeader(t *testing.T) {
	detail, err := ParseDetail(readFixture(t, "detail_unknown.html"))
	if err != nil {
		t.Fatalf("ParseDetail: %v", err)
	}
	if detail.Layout != LayoutUnknown.String() {
		t.Fatalf("layout = %q", detail.Layout)
	}
	if len(detail.Products) != 0 {
		t.Fatalf("unknown layout must not emit products, got %v", detail.Products)
	}
	if !detail.Totals.IsZero() {
		t.Fatalf("unknown layout must not emit totals, got %+v", detail.Totals)
	}
	if detail.AuthorizationCode != "60825331621" || detail.Truck.Plate != "XYZ-789" {
		t.Fatalf("header/truck should still be parsed: %+v", detail)
	}
}

func TestParseDetailAmbiguousUsesTotalRowFallback(t *testing.T) {
	detail, err := ParseDetail(readFixture(t, "detail_ambiguous.html"))
	if err != nil {
		t.Fatalf("ParseDetail: %v", err)
	}
	want := models.Totals{
		OrderedQty:     "25",
		SubtotalWeight: "300",
		Source:         models.TotalsFromTotalRow,
		LowConfidence:  true,
	}
	if diff := cmp.Diff(want, detail.Totals); diff != "" {
		t.Fatalf("totals mismatch (-want +got):\n%s", diff)
	}
	if len(detail.Products) != 1 {
		t.Fatalf("products = %d, want 1", len(detail.Products))
	}
}

func TestParseDetailWithoutBlocks(t *testing.T) {
	_, err := ParseDetail("<html><body><form id=\"login\"></form></body></html>")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestDeriveTotalsWithoutProductsOrTotalRow(t *testing.T) {
	if got := deriveTotals(nil, nil, false); !got.IsZero() {
		t.Fatalf("expected empty totals, got %+v", got)
	}
}
