package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/nellai-market/api/internal/domain"
)

// CustomerRepository keeps customer accounts in process memory. Email
// identity is case-insensitive; the record ID derives from the normalised
// email so concurrent upserts for the same address converge on one record.
type CustomerRepository struct {
	mu        sync.Mutex
	customers map[string]domain.Customer
}

// NewCustomerRepository constructs an empty in-memory customer repository.
func NewCustomerRepository() *CustomerRepository {
	return &CustomerRepository{customers: make(map[string]domain.Customer)}
}

// UpsertByEmail creates the customer on first contact or refreshes the
// stored profile fields on later checkouts.
func (r *CustomerRepository) UpsertByEmail(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	email := domain.NormalizeEmail(customer.Email)
	if email == "" {
		return domain.Customer{}, errors.New("customer repository: email is required")
	}

	now := time.Now().UTC()
	id := customerDocID(email)

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.customers[id]
	if !ok {
		record = domain.Customer{ID: id, CreatedAt: now}
	}
	record.Email = email
	record.FirstName = strings.TrimSpace(customer.FirstName)
	record.LastName = strings.TrimSpace(customer.LastName)
	record.Phone = strings.TrimSpace(customer.Phone)
	record.UpdatedAt = now
	r.customers[id] = record

	return record, nil
}

// FindByID fetches a customer by its record ID.
func (r *CustomerRepository) FindByID(_ context.Context, customerID string) (domain.Customer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Customer{}, errors.New("customer repository: customer id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.customers[customerID]
	if !ok {
		return domain.Customer{}, notFoundError("customers.find_by_id", "customer not found")
	}
	return record, nil
}

// FindByEmail fetches a customer by email, case-insensitively.
func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	normalized := domain.NormalizeEmail(email)
	if normalized == "" {
		return domain.Customer{}, errors.New("customer repository: email is required")
	}
	return r.FindByID(ctx, customerDocID(normalized))
}

func customerDocID(normalizedEmail string) string {
	sum := sha256.Sum256([]byte(normalizedEmail))
	return hex.EncodeToString(sum[:])[:24]
}
