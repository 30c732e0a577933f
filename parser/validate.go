package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scop-orders/models"
)

// ValidateRow ensures a listing row carries the fields downstream consumers key on.
func ValidateRow(r *models.ListingRow) error {
	if r == nil {
		return fmt.Errorf("row is nil")
	}
	if strings.TrimSpace(r.AuthorizationCode) == "" {
		return fmt.Errorf("row missing authorization code")
	}
	if strings.TrimSpace(r.Status) == "" {
		return fmt.Errorf("row missing status for %s", r.AuthorizationCode)
	}
	return nil
}

// NormalizeRow trims every listing column in place.
func NormalizeRow(r *models.ListingRow) {
	r.AuthorizationCode = NormalizeText(r.AuthorizationCode)
	r.ReferenceCode = cleanPlaceholder(NormalizeText(r.ReferenceCode))
	r.Buyer = NormalizeText(r.Buyer)
	r.Seller = NormalizeText(r.Seller)
	r.OrderType = NormalizeText(r.OrderType)
	r.Channel = NormalizeText(r.Channel)
	r.OrderDate = NormalizeText(r.OrderDate)
	r.DeliveryDate = NormalizeText(r.DeliveryDate)
	r.Status = NormalizeText(r.Status)
}

// cleanPlaceholder drops the "&" the portal renders in empty cells.
func cleanPlaceholder(s string) string {
	if s == "&" {
		return ""
	}
	return s
}
