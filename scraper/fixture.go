package scraper

import (
	"github.com/aluiziolira/go-scop-orders/models"
	"github.com/aluiziolira/go-scop-orders/parser"
)

// FixtureResult returns a deterministic single-row result shaped like a real
// granel order. It is served instead of scraping when fixture mode is on.
func FixtureResult(req models.QueryRequest) *models.QueryResult {
	code := req.AuthorizationCode
	if code == "" {
		code = "AUT999999"
	}
	return &models.QueryResult{
		Rows: []*models.ListingRow{{
			AuthorizationCode: code,
			ReferenceCode:     "REF123456",
			Buyer:             "EMPRESA PRUEBA S.A.C.",
			Seller:            "PLANTA GLP CENTRAL",
			OrderType:         "NORMAL",
			Channel:           "DISTRIBUIDOR",
			OrderDate:         req.DateFrom,
			DeliveryDate:      req.DateTo,
			Status:            models.StatusRequested,
			Detail: &models.DetailRecord{
				HeaderTitle:       "DETALLE DE ORDEN DE PEDIDO",
				SellerAgent:       "PLANTA GLP CENTRAL",
				SellerType:        "PLANTA",
				AuthorizationCode: code,
				ReferenceCode:     "REF123456",
				Status:            models.StatusRequested,
				OrderDate:         req.DateFrom,
				OrderType:         "NORMAL",
				BuyerAgent:        "EMPRESA PRUEBA S.A.C.",
				Truck:             models.Truck{Plate: "XYZ-789", Capacity: "12000", Unit: "KG"},
				Layout:            parser.LayoutGranelSimple.String(),
				Products: []models.ProductLine{{
					Product:        "GLP GRANEL",
					Brand:          "NINGUNA",
					OrderedQty:     "8000",
					AcceptedQty:    "8000",
					SoldQty:        "0",
					ReceivedQty:    "0",
					SubtotalWeight: "8000",
					Status:         models.StatusRequested,
				}},
				Totals: models.Totals{
					OrderedQty:     "8000",
					SubtotalWeight: "8000",
					Source:         models.TotalsFromProducts,
				},
			},
		}},
	}
}
