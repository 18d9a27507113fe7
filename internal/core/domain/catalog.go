package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	MaxCategoryNameLength  = 64
	PublicDescriptionLimit = 300
)

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Variant is a stock-tracked option of a product. Quantity is mutated only
// through the stock ledger.
type Variant struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Image    string          `json:"image,omitempty"`
}

type Product struct {
	ID          string          `json:"id"`
	CategoryID  string          `json:"category_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image,omitempty"`
	Images      []string        `json:"images,omitempty"`
	Available   bool            `json:"available"`
	Variants    []Variant       `json:"variants,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Catalog is the materialized payload served by the catalog cache.
type Catalog struct {
	Categories []Category `json:"categories"`
	Products   []Product  `json:"products"`
}

func (p *Product) Variant(id string) *Variant {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i]
		}
	}
	return nil
}

func (p *Product) HasVariants() bool {
	return len(p.Variants) > 0
}

// UnitPrice returns the variant override when set, the product price otherwise.
func (p *Product) UnitPrice(v *Variant) decimal.Decimal {
	if v != nil && v.Price.IsPositive() {
		return v.Price
	}
	return p.Price
}

// Valid reports whether the record is complete enough to be served.
func (p *Product) Valid() bool {
	if p.ID == "" || strings.TrimSpace(p.Name) == "" || p.Price.IsNegative() {
		return false
	}
	for _, v := range p.Variants {
		if v.ID == "" || v.Price.IsNegative() {
			return false
		}
	}
	return true
}

// PublicView returns a copy trimmed for anonymous readers.
func (p Product) PublicView() Product {
	if utf8.RuneCountInString(p.Description) > PublicDescriptionLimit {
		p.Description = string([]rune(p.Description)[:PublicDescriptionLimit])
	}
	if len(p.Variants) > 0 {
		p.Variants = append([]Variant(nil), p.Variants...)
	}
	return p
}

func NormalizeCategoryName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", Invalid("category name is required")
	}
	if utf8.RuneCountInString(name) > MaxCategoryNameLength {
		return "", Invalid("category name exceeds %d characters", MaxCategoryNameLength)
	}
	return name, nil
}
