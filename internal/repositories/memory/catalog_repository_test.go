package memory

import (
	"context"
	"testing"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/repositories"
)

func TestCatalogRepositoryListFiltersAndPaginates(t *testing.T) {
	repo := NewCatalogRepository(SeedProducts())

	category := "vegetables"
	page, err := repo.ListProducts(context.Background(), repositories.CatalogFilter{Category: &category})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 3 {
		t.Fatalf("expected 3 vegetables, got %d", len(page.Items))
	}

	page, err = repo.ListProducts(context.Background(), repositories.CatalogFilter{
		InStockOnly: true,
		Pagination:  domain.Pagination{PageSize: 5},
	})
	if err != nil {
		t.Fatalf("list in stock: %v", err)
	}
	if len(page.Items) != 5 || page.NextPageToken == "" {
		t.Fatalf("expected full first page with token, got %d items", len(page.Items))
	}

	rest, err := repo.ListProducts(context.Background(), repositories.CatalogFilter{
		InStockOnly: true,
		Pagination:  domain.Pagination{PageSize: 20, PageToken: page.NextPageToken},
	})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	for _, product := range rest.Items {
		if !product.InStock {
			t.Fatalf("out of stock product %s returned", product.ID)
		}
		if product.ID <= page.NextPageToken {
			t.Fatalf("page token not honoured: %s", product.ID)
		}
	}
}

func TestCatalogRepositoryGetProduct(t *testing.T) {
	repo := NewCatalogRepository(SeedProducts())

	product, err := repo.GetProduct(context.Background(), "prod-010")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if product.Name != "Filter Coffee Powder" {
		t.Fatalf("unexpected product: %+v", product)
	}

	_, err = repo.GetProduct(context.Background(), "prod-999")
	if err == nil {
		t.Fatal("expected not found")
	}
	repoErr, ok := err.(repositories.RepositoryError)
	if !ok || !repoErr.IsNotFound() {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestCartRepositoryRoundTrip(t *testing.T) {
	repo := NewCartRepository()

	saved, err := repo.Save(context.Background(), domain.Cart{
		ID: "sess-1",
		Lines: []domain.CartLine{
			{ProductID: "prod-001", ProductName: "Ponni Raw Rice", UnitPrice: 62, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.UpdatedAt.IsZero() {
		t.Fatal("save must stamp UpdatedAt")
	}

	got, err := repo.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Lines) != 1 || got.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected cart: %+v", got)
	}

	if err := repo.Delete(context.Background(), "sess-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(context.Background(), "sess-1"); err == nil {
		t.Fatal("expected not found after delete")
	}
	if err := repo.Delete(context.Background(), "sess-1"); err != nil {
		t.Fatalf("deleting a missing cart must be a no-op, got %v", err)
	}
}
