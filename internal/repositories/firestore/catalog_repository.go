package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/nellai-market/api/internal/domain"
	pfirestore "github.com/nellai-market/api/internal/platform/firestore"
	"github.com/nellai-market/api/internal/repositories"
)

const productsCollection = "products"

// CatalogRepository exposes the sellable product catalog stored in Firestore.
type CatalogRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection)
	return &CatalogRepository{base: base}, nil
}

// ListProducts returns products matching the filter ordered by name.
func (r *CatalogRepository) ListProducts(ctx context.Context, filter repositories.CatalogFilter) (domain.CursorPage[domain.CatalogProduct], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.CatalogProduct]{}, errors.New("catalog repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter string
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		startAfter = token
	}

	var category string
	if filter.Category != nil {
		category = strings.TrimSpace(*filter.Category)
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if category != "" {
			q = q.Where("category", "==", category)
		}
		if filter.InStockOnly {
			q = q.Where("inStock", "==", true)
		}
		q = q.OrderBy(firestore.DocumentID, firestore.Asc)
		if startAfter != "" {
			q = q.StartAfter(startAfter)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.CatalogProduct]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		nextToken = valueDocs[len(valueDocs)-1].ID
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.CatalogProduct, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeProductDocument(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.CatalogProduct]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// GetProduct fetches a single product by ID.
func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.CatalogProduct, error) {
	if r == nil || r.base == nil {
		return domain.CatalogProduct{}, errors.New("catalog repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CatalogProduct{}, errors.New("catalog repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.CatalogProduct{}, err
	}
	return decodeProductDocument(doc.ID, doc.Data), nil
}

type productDocument struct {
	Name      string `firestore:"name"`
	Category  string `firestore:"category"`
	UnitPrice int64  `firestore:"unitPrice"`
	Unit      string `firestore:"unit"`
	ImageURL  string `firestore:"imageUrl"`
	InStock   bool   `firestore:"inStock"`
}

func decodeProductDocument(id string, doc productDocument) domain.CatalogProduct {
	return domain.CatalogProduct{
		ID:        id,
		Name:      doc.Name,
		Category:  doc.Category,
		UnitPrice: doc.UnitPrice,
		Unit:      doc.Unit,
		ImageURL:  doc.ImageURL,
		InStock:   doc.InStock,
	}
}

// DocumentPath constructs the document path for the provided product id.
func (r *CatalogRepository) DocumentPath(productID string) string {
	return fmt.Sprintf("%s/%s", productsCollection, strings.TrimSpace(productID))
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
