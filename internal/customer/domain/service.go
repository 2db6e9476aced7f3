package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/autumn/internal/orgcontext"
)

type ListCustomerRequest struct {
	PageSize    int32
	Name        string
	Email       string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type ListCustomerFilter struct {
	Limit       int
	Name        string
	Email       string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type ListCustomerResponse struct {
	Customers []Customer `json:"customers"`
}

type CreateCustomerRequest struct {
	ExternalID string         `json:"id"`
	Name       string         `json:"name"`
	Email      string         `json:"email"`
	Metadata   map[string]any `json:"metadata"`
}

type GetCustomerRequest struct {
	ID string
}

type CreateEntityRequest struct {
	CustomerID string `json:"-"`
	ExternalID string `json:"id"`
	Name       string `json:"name"`
}

type Service interface {
	Create(context.Context, CreateCustomerRequest) (Customer, error)
	List(context.Context, ListCustomerRequest) (ListCustomerResponse, error)
	GetByID(context.Context, GetCustomerRequest) (Customer, error)
	CreateEntity(context.Context, CreateEntityRequest) (Entity, error)

	// Resolve finds a customer by its external id, falling back to the internal id.
	Resolve(ctx context.Context, scope orgcontext.Scope, customerID string) (*Customer, error)
	// ResolveEntity finds an entity of a customer by its external id.
	ResolveEntity(ctx context.Context, customer *Customer, entityID string) (*Entity, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidID           = errors.New("invalid_id")
	ErrNotFound            = errors.New("customer_not_found")
	ErrEntityNotFound      = errors.New("entity_not_found")
	ErrAlreadyExists       = errors.New("customer_already_exists")
	ErrEntityExists        = errors.New("entity_already_exists")
)
