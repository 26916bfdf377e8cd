package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	domain "github.com/nellai-market/api/internal/domain"
)

func TestCustomerRepositoryUpsertConvergesOnEmail(t *testing.T) {
	repo := NewCustomerRepository()

	first, err := repo.UpsertByEmail(context.Background(), domain.Customer{
		Email:     "Meena@Example.com",
		FirstName: "Meena",
		LastName:  "Raman",
		Phone:     "+919876543210",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if first.Email != "meena@example.com" {
		t.Fatalf("expected normalised email, got %q", first.Email)
	}

	second, err := repo.UpsertByEmail(context.Background(), domain.Customer{
		Email:     "  MEENA@example.com ",
		FirstName: "Meenakshi",
		LastName:  "Raman",
		Phone:     "+919876543211",
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("case variants must share a record: %s vs %s", first.ID, second.ID)
	}
	if second.FirstName != "Meenakshi" || second.Phone != "+919876543211" {
		t.Fatalf("profile fields not refreshed: %+v", second)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("upsert must preserve original creation time")
	}

	found, err := repo.FindByEmail(context.Background(), "meena@EXAMPLE.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if found.ID != first.ID {
		t.Fatalf("expected %s, got %s", first.ID, found.ID)
	}
}

func TestCustomerRepositoryParallelUpsertsShareOneRecord(t *testing.T) {
	repo := NewCustomerRepository()
	ctx := context.Background()

	const attempts = 16
	ids := make([]string, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			customer, err := repo.UpsertByEmail(ctx, domain.Customer{
				Email:     "meena@example.com",
				FirstName: fmt.Sprintf("Meena-%d", i),
				LastName:  "Raman",
				Phone:     "+919876543210",
			})
			ids[i], errs[i] = customer.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("upsert %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("upsert %d produced %s, want the single record %s", i, ids[i], ids[0])
		}
	}
}

func TestCustomerRepositoryFindMissing(t *testing.T) {
	repo := NewCustomerRepository()

	if _, err := repo.FindByID(context.Background(), "nope"); err == nil {
		t.Fatal("expected not found")
	}
	if _, err := repo.FindByEmail(context.Background(), "ghost@example.com"); err == nil {
		t.Fatal("expected not found")
	}
}
