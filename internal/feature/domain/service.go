package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/autumn/internal/orgcontext"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Archive(ctx context.Context, id string) (*Response, error)

	// Resolve finds an active feature by its public code.
	Resolve(ctx context.Context, scope orgcontext.Scope, code string) (*Feature, error)
	// ResolveEvent returns every active feature listening to an event name.
	ResolveEvent(ctx context.Context, scope orgcontext.Scope, eventName string) ([]Feature, error)
	// ResolveCreditSystems returns the active credit systems pricing a metered
	// feature. No match is not an error.
	ResolveCreditSystems(ctx context.Context, scope orgcontext.Scope, code string) ([]Feature, error)
}

type ListRequest struct {
	Name        string
	Code        string
	EventName   string
	FeatureType *FeatureType
	Active      *bool
	SortBy      string
	OrderBy     string
}

type CreateRequest struct {
	Code         string         `json:"code"`
	Name         string         `json:"name"`
	Description  *string        `json:"description"`
	FeatureType  FeatureType    `json:"feature_type"`
	EventNames   []string       `json:"event_names"`
	CreditSchema []CreditCost   `json:"credit_schema"`
	Active       *bool          `json:"active"`
	Metadata     map[string]any `json:"metadata"`
}

type UpdateRequest struct {
	ID           string         `json:"id"`
	Name         *string        `json:"name,omitempty"`
	Description  *string        `json:"description,omitempty"`
	FeatureType  *FeatureType   `json:"feature_type,omitempty"`
	EventNames   []string       `json:"event_names,omitempty"`
	CreditSchema []CreditCost   `json:"credit_schema,omitempty"`
	Active       *bool          `json:"active,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type Response struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Env            string         `json:"env"`
	Code           string         `json:"code"`
	Name           string         `json:"name"`
	Description    *string        `json:"description,omitempty"`
	FeatureType    FeatureType    `json:"feature_type"`
	EventNames     []string       `json:"event_names"`
	CreditSchema   []CreditCost   `json:"credit_schema,omitempty"`
	Active         bool           `json:"active"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidCode         = errors.New("invalid_code")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidType         = errors.New("invalid_feature_type")
	ErrInvalidCreditSchema = errors.New("invalid_credit_schema")
	ErrInvalidID           = errors.New("invalid_id")
	ErrNotFound            = errors.New("feature_not_found")
	ErrDuplicateCode       = errors.New("duplicate_feature_code")
	ErrFeatureInUse        = errors.New("feature_in_use")
)
