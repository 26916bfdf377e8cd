package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/nellai-market/api/internal/domain"
	"github.com/nellai-market/api/internal/payments"
	"github.com/nellai-market/api/internal/platform/config"
	"github.com/nellai-market/api/internal/repositories"
	"github.com/nellai-market/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog   services.CatalogService
	Cart      services.CartService
	Customers services.CustomerService
	Pricing   services.PricingEngine
	Orders    services.OrderService
	Checkout  services.CheckoutService
	Payments  services.PaymentService
	System    services.SystemService
}

// ContainerDeps carries the externally constructed infrastructure the
// container wires services around. Gateways and Events may be nil: a nil
// gateway manager leaves the store cash-on-delivery only, and a nil
// publisher drops lifecycle events.
type ContainerDeps struct {
	Config   config.Config
	Registry repositories.Registry
	Gateways *payments.Manager
	Events   services.OrderEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and payment infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Gateways     *payments.Manager
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides the
// Firestore registry and Stripe manager; tests supply in-memory registries.
func NewContainer(ctx context.Context, deps ContainerDeps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Registry,
		Gateways:     deps.Gateways,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, deps ContainerDeps) (Services, error) {
	var svc Services
	reg := deps.Registry
	cfg := deps.Config

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: reg.Catalog(),
		Logger:  logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:   reg.Carts(),
		Catalog: reg.Catalog(),
		Clock:   clock,
		Logger:  logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	customerSvc, err := services.NewCustomerService(services.CustomerServiceDeps{
		Customers: reg.Customers(),
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build customer service: %w", err)
	}
	svc.Customers = customerSvc

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		Currency: cfg.Pricing.Currency,
		Delivery: domain.DeliveryPolicy{
			FreeThreshold: cfg.Pricing.FreeDeliveryAbove,
			FlatFee:       cfg.Pricing.DeliveryFlatFee,
		},
		Logger: logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	orderDeps := services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Events:        deps.Events,
		Clock:         clock,
		NumberPrefix:  cfg.Orders.NumberPrefix,
		CreateRetries: cfg.Orders.CreateRetries,
		Logger:        logger,
	}
	if deps.Gateways != nil {
		orderDeps.Refunds = deps.Gateways
	}
	orderSvc, err := services.NewOrderService(orderDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	checkoutDeps := services.CheckoutServiceDeps{
		Carts:      cartSvc,
		Pricing:    pricing,
		Customers:  customerSvc,
		Orders:     orderSvc,
		Ledger:     reg.Orders(),
		Currency:   cfg.Pricing.Currency,
		SuccessURL: cfg.PSP.SuccessURL,
		CancelURL:  cfg.PSP.CancelURL,
		Clock:      clock,
		Logger:     logger,
	}
	if deps.Gateways != nil {
		checkoutDeps.Sessions = deps.Gateways
	}
	checkoutSvc, err := services.NewCheckoutService(checkoutDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	paymentDeps := services.PaymentServiceDeps{
		Ledger:     reg.Orders(),
		Events:     deps.Events,
		SessionTTL: cfg.Payments.SessionTTL,
		Clock:      clock,
		Logger:     logger,
	}
	if deps.Gateways != nil {
		paymentDeps.Gateways = deps.Gateways
	}
	paymentSvc, err := services.NewPaymentService(paymentDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build: services.BuildInfo{
				StartedAt: clock().UTC(),
			},
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
