package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/repositories"
)

var (
	// ErrCustomerInvalidInput signals the caller provided invalid data.
	ErrCustomerInvalidInput = errors.New("customer: invalid input")
	// ErrCustomerNotFound indicates the customer could not be located.
	ErrCustomerNotFound = errors.New("customer: not found")
	// ErrCustomerUnavailable indicates the directory backend is unavailable.
	ErrCustomerUnavailable = errors.New("customer: unavailable")
)

// CustomerServiceDeps bundles collaborators required to construct the customer service.
type CustomerServiceDeps struct {
	Customers repositories.CustomerRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type customerService struct {
	customers repositories.CustomerRepository
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewCustomerService wires dependencies into a concrete CustomerService implementation.
func NewCustomerService(deps CustomerServiceDeps) (CustomerService, error) {
	if deps.Customers == nil {
		return nil, errors.New("customer service: customer repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &customerService{
		customers: deps.Customers,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// UpsertFromCheckout creates the customer on first checkout or refreshes the
// stored profile. Email identity is case-insensitive.
func (s *customerService) UpsertFromCheckout(ctx context.Context, cmd UpsertCustomerCommand) (Customer, error) {
	email := domain.NormalizeEmail(cmd.Email)
	if email == "" {
		return Customer{}, fmt.Errorf("%w: email is required", ErrCustomerInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return Customer{}, fmt.Errorf("%w: email %q is not valid", ErrCustomerInvalidInput, cmd.Email)
	}
	if strings.TrimSpace(cmd.FirstName) == "" {
		return Customer{}, fmt.Errorf("%w: first name is required", ErrCustomerInvalidInput)
	}

	customer, err := s.customers.UpsertByEmail(ctx, domain.Customer{
		Email:     email,
		FirstName: strings.TrimSpace(cmd.FirstName),
		LastName:  strings.TrimSpace(cmd.LastName),
		Phone:     strings.TrimSpace(cmd.Phone),
	})
	if err != nil {
		return Customer{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "customer.upserted", map[string]any{
		"customerId": customer.ID,
	})

	return customer, nil
}

// GetCustomer fetches a customer by its record ID.
func (s *customerService) GetCustomer(ctx context.Context, customerID string) (Customer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Customer{}, fmt.Errorf("%w: customer id is required", ErrCustomerInvalidInput)
	}
	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return Customer{}, s.mapRepositoryError(err)
	}
	return customer, nil
}

// GetByEmail fetches a customer by email, case-insensitively.
func (s *customerService) GetByEmail(ctx context.Context, email string) (Customer, error) {
	if domain.NormalizeEmail(email) == "" {
		return Customer{}, fmt.Errorf("%w: email is required", ErrCustomerInvalidInput)
	}
	customer, err := s.customers.FindByEmail(ctx, email)
	if err != nil {
		return Customer{}, s.mapRepositoryError(err)
	}
	return customer, nil
}

func (s *customerService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCustomerNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCustomerUnavailable, err)
		}
	}
	return err
}
