package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/nellai-market/api/internal/domain"
	pfirestore "github.com/nellai-market/api/internal/platform/firestore"
)

const customersCollection = "customers"

// CustomerRepository persists customer accounts in Firestore. Documents are
// keyed by a digest of the normalised email so concurrent first-contact
// upserts for the same address converge on one record without a lookup index.
type CustomerRepository struct {
	base     *pfirestore.BaseRepository[customerDocument]
	provider *pfirestore.Provider
}

// NewCustomerRepository constructs a Firestore-backed customer repository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[customerDocument](provider, customersCollection)
	return &CustomerRepository{base: base, provider: provider}, nil
}

// CustomerDocID derives the stable document ID for an email address.
func CustomerDocID(email string) string {
	sum := sha256.Sum256([]byte(domain.NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])[:24]
}

// UpsertByEmail creates the customer on first contact or refreshes profile
// fields on later checkouts. The write runs in a transaction so two parallel
// checkouts with the same email produce exactly one record.
func (r *CustomerRepository) UpsertByEmail(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	if r == nil || r.base == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	email := domain.NormalizeEmail(customer.Email)
	if email == "" {
		return domain.Customer{}, errors.New("customer repository: email is required")
	}

	docID := CustomerDocID(email)
	now := time.Now().UTC()

	var saved customerDocument
	if err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.base.DocumentRef(ctx, docID)
		if err != nil {
			return err
		}

		doc := customerDocument{
			Email:      strings.TrimSpace(customer.Email),
			EmailLower: email,
			FirstName:  strings.TrimSpace(customer.FirstName),
			LastName:   strings.TrimSpace(customer.LastName),
			Phone:      strings.TrimSpace(customer.Phone),
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		snap, err := tx.Get(docRef)
		switch {
		case err == nil:
			var existing customerDocument
			if decodeErr := snap.DataTo(&existing); decodeErr != nil {
				return decodeErr
			}
			doc.CreatedAt = existing.CreatedAt
			if doc.CreatedAt.IsZero() {
				doc.CreatedAt = snap.CreateTime
			}
		case isNotFound(err):
			// first contact, keep the fresh timestamps
		default:
			return err
		}

		saved = doc
		return tx.Set(docRef, doc)
	}); err != nil {
		return domain.Customer{}, err
	}

	return toDomainCustomer(docID, saved), nil
}

// FindByID loads a customer by document ID.
func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	if r == nil || r.base == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Customer{}, errors.New("customer repository: customer id is required")
	}
	doc, err := r.base.Get(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	customer := toDomainCustomer(doc.ID, doc.Data)
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = doc.CreateTime
	}
	if customer.UpdatedAt.IsZero() {
		customer.UpdatedAt = doc.UpdateTime
	}
	return customer, nil
}

// FindByEmail resolves a customer by email identity.
func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	if domain.NormalizeEmail(email) == "" {
		return domain.Customer{}, errors.New("customer repository: email is required")
	}
	return r.FindByID(ctx, CustomerDocID(email))
}

type customerDocument struct {
	Email      string    `firestore:"email"`
	EmailLower string    `firestore:"emailLower"`
	FirstName  string    `firestore:"firstName"`
	LastName   string    `firestore:"lastName"`
	Phone      string    `firestore:"phone"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func toDomainCustomer(id string, doc customerDocument) domain.Customer {
	return domain.Customer{
		ID:        id,
		Email:     strings.TrimSpace(doc.Email),
		FirstName: strings.TrimSpace(doc.FirstName),
		LastName:  strings.TrimSpace(doc.LastName),
		Phone:     strings.TrimSpace(doc.Phone),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func isNotFound(err error) bool {
	var repoErr interface{ IsNotFound() bool }
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return statusCodeIsNotFound(err)
}
