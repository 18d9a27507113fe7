package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type VariantInput struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Image    string          `json:"image"`
}

type ProductInput struct {
	CategoryID  string          `json:"category_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image"`
	Images      []string        `json:"images"`
	Available   *bool           `json:"available"`
	Variants    []VariantInput  `json:"variants"`
}

// ProductPatch updates only the fields that are set. A non-nil Variants
// replaces the stored variants.
type ProductPatch struct {
	CategoryID  *string          `json:"category_id"`
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Image       *string          `json:"image"`
	Images      []string         `json:"images"`
	Available   *bool            `json:"available"`
	Variants    []VariantInput   `json:"variants"`
}

type CategoryDetail struct {
	Category domain.Category  `json:"category"`
	Products []domain.Product `json:"products"`
}

// CatalogService runs admin catalog mutations. Each one invalidates the
// catalog cache.
type CatalogService struct {
	repo   port.CatalogRepository
	cache  *CatalogCache
	logger zerolog.Logger
	now    func() time.Time
}

func NewCatalogService(repo port.CatalogRepository, cache *CatalogCache, logger zerolog.Logger) *CatalogService {
	return &CatalogService{
		repo:   repo,
		cache:  cache,
		logger: logger.With().Str("component", "catalog").Logger(),
		now:    time.Now,
	}
}

func (s *CatalogService) CreateCategory(ctx context.Context, name string) (*domain.Category, error) {
	name, err := domain.NormalizeCategoryName(name)
	if err != nil {
		return nil, err
	}
	cat := domain.Category{ID: uuid.NewString(), Name: name, CreatedAt: s.now()}
	if err := s.repo.CreateCategory(ctx, cat); err != nil {
		return nil, s.storeErr("create category", err)
	}
	return &cat, s.invalidate(ctx)
}

func (s *CatalogService) UpdateCategory(ctx context.Context, id, name string) (*domain.Category, error) {
	name, err := domain.NormalizeCategoryName(name)
	if err != nil {
		return nil, err
	}
	cat, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return nil, s.storeErr("load category", err)
	}
	cat.Name = name
	if err := s.repo.UpdateCategory(ctx, *cat); err != nil {
		return nil, s.storeErr("update category", err)
	}
	return cat, s.invalidate(ctx)
}

func (s *CatalogService) DeleteCategory(ctx context.Context, id string) error {
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return s.storeErr("delete category", err)
	}
	return s.invalidate(ctx)
}

// CategoryDetail returns a category with all of its products, available or not.
func (s *CatalogService) CategoryDetail(ctx context.Context, id string) (*CategoryDetail, error) {
	cat, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return nil, s.storeErr("load category", err)
	}
	products, err := s.repo.ListProductsByCategory(ctx, id)
	if err != nil {
		return nil, s.storeErr("list products", err)
	}
	return &CategoryDetail{Category: *cat, Products: products}, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, s.storeErr("load product", err)
	}
	return p, nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, in ProductInput) (*domain.Product, error) {
	if _, err := s.repo.GetCategory(ctx, in.CategoryID); err != nil {
		return nil, s.storeErr("load category", err)
	}

	now := s.now()
	p := domain.Product{
		ID:          uuid.NewString(),
		CategoryID:  in.CategoryID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price,
		Image:       in.Image,
		Images:      in.Images,
		Available:   in.Available == nil || *in.Available,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	variants, err := buildVariants(in.Variants)
	if err != nil {
		return nil, err
	}
	p.Variants = variants
	if p.Image == "" && len(p.Images) > 0 {
		p.Image = p.Images[0]
	}
	if !p.Valid() {
		return nil, domain.Invalid("product needs a name and non-negative prices")
	}

	if err := s.repo.CreateProduct(ctx, p); err != nil {
		return nil, s.storeErr("create product", err)
	}
	return &p, s.invalidate(ctx)
}

func (s *CatalogService) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (*domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, s.storeErr("load product", err)
	}

	if patch.CategoryID != nil && *patch.CategoryID != p.CategoryID {
		if _, err := s.repo.GetCategory(ctx, *patch.CategoryID); err != nil {
			return nil, s.storeErr("load category", err)
		}
		p.CategoryID = *patch.CategoryID
	}
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.Images != nil {
		p.Images = patch.Images
		if patch.Image == nil && len(p.Images) > 0 {
			p.Image = p.Images[0]
		}
	}
	if patch.Image != nil {
		p.Image = *patch.Image
	}
	if patch.Available != nil {
		p.Available = *patch.Available
	}
	replaceVariants := patch.Variants != nil
	if replaceVariants {
		variants, err := buildVariants(patch.Variants)
		if err != nil {
			return nil, err
		}
		p.Variants = variants
	}
	if !p.Valid() {
		return nil, domain.Invalid("product needs a name and non-negative prices")
	}
	p.UpdatedAt = s.now()

	if err := s.repo.UpdateProduct(ctx, *p, replaceVariants); err != nil {
		return nil, s.storeErr("update product", err)
	}
	return p, s.invalidate(ctx)
}

func (s *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return s.storeErr("delete product", err)
	}
	return s.invalidate(ctx)
}

func (s *CatalogService) invalidate(ctx context.Context) error {
	version, err := s.cache.Invalidate(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("catalog invalidation failed")
		return err
	}
	s.logger.Info().Str("version", version).Msg("catalog invalidated")
	return nil
}

func (s *CatalogService) storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrDuplicate) || errors.Is(err, domain.ErrInvalidArgument) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorage, op, err)
}

func buildVariants(in []VariantInput) ([]domain.Variant, error) {
	out := make([]domain.Variant, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		if strings.TrimSpace(v.Name) == "" {
			return nil, domain.Invalid("variant name is required")
		}
		if v.Quantity < 0 {
			return nil, domain.Invalid("variant quantity cannot be negative")
		}
		id := v.ID
		if id == "" {
			id = uuid.NewString()
		}
		if seen[id] {
			return nil, domain.Invalid("duplicate variant id %s", id)
		}
		seen[id] = true
		out = append(out, domain.Variant{
			ID:       id,
			Name:     strings.TrimSpace(v.Name),
			Price:    v.Price,
			Quantity: v.Quantity,
			Image:    v.Image,
		})
	}
	return out, nil
}
