// Package models defines the order records extracted from the SCOP portal.
package models

import (
	"encoding/json"
	"time"
)

// StatusRequested is the listing status that qualifies a row for detail fetching.
const StatusRequested = "SOLICITADO"

// Credentials identify one stored portal account.
type Credentials struct {
	SiteKey  string
	Username string
	Password string
}

// Identity is the key used to match pooled sessions to credentials.
func (c Credentials) Identity() string {
	return c.SiteKey + "|" + c.Username
}

// QueryRequest is a validated query ready to run against the portal.
type QueryRequest struct {
	AuthorizationCode string
	SiteKey           string
	DateFrom          string // DD/MM/YYYY
	DateTo            string // DD/MM/YYYY
}

// ListingRow is one row of the query results table.
type ListingRow struct {
	AuthorizationCode string        `csv:"authorization_code" json:"codigoAutorizacion"`
	ReferenceCode     string        `csv:"reference_code" json:"codigoReferencia"`
	Buyer             string        `csv:"buyer" json:"comprador"`
	Seller            string        `csv:"seller" json:"vendedor"`
	OrderType         string        `csv:"order_type" json:"tipoPedido"`
	Channel           string        `csv:"channel" json:"canal"`
	OrderDate         string        `csv:"order_date" json:"fechaPedido"`
	DeliveryDate      string        `csv:"delivery_date" json:"fechaEntrega"`
	Status            string        `csv:"status" json:"estado"`
	Detail            *DetailRecord `csv:"-" json:"detalle,omitempty"`
}

// DetailRecord is the normalized content of an order detail page.
//
// A record carrying Error is an error marker: it is emitted as {"error": "..."}
// and every other field is ignored.
type DetailRecord struct {
	HeaderTitle         string        `json:"cabeceraTitulo"`
	SellerAgent         string        `json:"agenteVendedor"`
	SellerType          string        `json:"tipoVendedor"`
	AuthorizationCode   string        `json:"codigoAutorizacion"`
	ReferenceCode       string        `json:"codigoReferencia"`
	Status              string        `json:"estado"`
	OrderDate           string        `json:"fechaPedido"`
	OrderType           string        `json:"tipoPedido"`
	InvoiceNumber       string        `json:"numeroFactura"`
	InvoiceDate         string        `json:"fechaEmisionFactura"`
	ShipmentGuideNumber string        `json:"numeroGuiaRemision"`
	BuyerAgent          string        `json:"agenteComprador"`
	Truck               Truck         `json:"camion"`
	Layout              string        `json:"layout"`
	Products            []ProductLine `json:"productos"`
	Totals              Totals        `json:"totales"`

	Error string `json:"-"`
}

// DetailError builds an error marker for a row whose detail could not be read.
func DetailError(msg string) *DetailRecord {
	return &DetailRecord{Error: msg}
}

// MarshalJSON emits error markers as a bare {"error": ...} object.
func (d DetailRecord) MarshalJSON() ([]byte, error) {
	if d.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{Error: d.Error})
	}
	type plain DetailRecord
	p := plain(d)
	if p.Products == nil {
		p.Products = []ProductLine{}
	}
	return json.Marshal(p)
}

// Truck is the vehicle assigned to the order.
type Truck struct {
	Plate    string `json:"placa"`
	Capacity string `json:"capacidadKg"`
	Unit     string `json:"un"`
}

// ProductLine is one product row of the detail page. Fields not exposed by the
// detected layout stay empty.
type ProductLine struct {
	Product        string `json:"producto"`
	Brand          string `json:"marca"`
	OrderedQty     string `json:"cantidadPedida"`
	AcceptedQty    string `json:"cantidadAceptada"`
	SoldQty        string `json:"cantidadVendida"`
	ReceivedQty    string `json:"cantidadRecibida"`
	SubtotalWeight string `json:"subtotalKg"`
	Status         string `json:"estado"`
}

// Totals sources.
const (
	TotalsFromProducts = "products"
	TotalsFromTotalRow = "total-row-fallback"
)

// Totals are derived from the product lines of the same detail page. When
// Source is TotalsFromTotalRow the values were guessed from the portal's own
// total row and LowConfidence is set.
type Totals struct {
	OrderedQty     string `json:"cantidadPedida,omitempty"`
	SubtotalWeight string `json:"subtotalKg,omitempty"`
	Source         string `json:"fuente,omitempty"`
	LowConfidence  bool   `json:"bajaConfianza,omitempty"`
}

// IsZero reports whether no totals were derived.
func (t Totals) IsZero() bool {
	return t.OrderedQty == "" && t.SubtotalWeight == ""
}

// QueryResult is the outcome of a query: rows, or no rows plus a diagnostic message.
type QueryResult struct {
	Rows    []*ListingRow `json:"results"`
	Message string        `json:"message,omitempty"`

	Attempts  int       `json:"-"`
	Cached    bool      `json:"-"`
	StartedAt time.Time `json:"-"`
	EndedAt   time.Time `json:"-"`
}

// MarshalJSON keeps "results" an array even when empty.
func (r QueryResult) MarshalJSON() ([]byte, error) {
	rows := r.Rows
	if rows == nil {
		rows = []*ListingRow{}
	}
	return json.Marshal(struct {
		Rows    []*ListingRow `json:"results"`
		Message string        `json:"message,omitempty"`
	}{Rows: rows, Message: r.Message})
}
