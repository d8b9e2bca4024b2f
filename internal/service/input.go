package service

import (
	"errors"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
	apperrors "github.com/carticy-dev/agentic-checkout/pkg/errors"
	"github.com/carticy-dev/agentic-checkout/pkg/validator"
)

// LineItemInput is a requested cart line. The unit price is never taken from
// the client; it is snapshotted from the catalog at resolution time.
type LineItemInput struct {
	CatalogRef string `json:"catalog_ref" validate:"required"`
	Quantity   int    `json:"quantity" validate:"required,gt=0,lte=999"`
}

// BuyerInput carries buyer contact details.
type BuyerInput struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// AddressInput carries a billing or shipping address.
type AddressInput struct {
	FullName    string `json:"full_name" validate:"required"`
	AddressLine string `json:"address_line" validate:"required"`
	City        string `json:"city" validate:"required"`
	State       string `json:"state,omitempty"`
	PostalCode  string `json:"postal_code" validate:"required"`
	Country     string `json:"country" validate:"required,len=2"`
	Phone       string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// CreateSessionInput is the body of a session create call.
type CreateSessionInput struct {
	Currency        string          `json:"currency" validate:"required,len=3"`
	LineItems       []LineItemInput `json:"line_items" validate:"required,min=1,max=100,dive"`
	Buyer           *BuyerInput     `json:"buyer,omitempty"`
	BillingAddress  *AddressInput   `json:"billing_address,omitempty"`
	ShippingAddress *AddressInput   `json:"shipping_address,omitempty"`
	DiscountCodes   []string        `json:"discount_codes,omitempty" validate:"omitempty,max=10"`
}

// UpdateSessionInput is the body of a session update call. Nil fields are
// left untouched; present fields replace the stored value wholesale.
type UpdateSessionInput struct {
	LineItems        *[]LineItemInput `json:"line_items,omitempty" validate:"omitempty,min=1,max=100,dive"`
	Buyer            *BuyerInput      `json:"buyer,omitempty"`
	BillingAddress   *AddressInput    `json:"billing_address,omitempty"`
	ShippingAddress  *AddressInput    `json:"shipping_address,omitempty"`
	ShippingOptionID *string          `json:"shipping_option_id,omitempty"`
	DiscountCodes    *[]string        `json:"discount_codes,omitempty" validate:"omitempty,max=10"`
}

// CompleteSessionInput is the body of a session complete call.
type CompleteSessionInput struct {
	DelegatedToken string `json:"delegated_token" validate:"required"`
}

// validateInput runs struct validation and converts failures to the
// protocol's per-field validation error.
func validateInput(v any) error {
	err := validator.Validate(v)
	if err == nil {
		return nil
	}
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		return apperrors.Validation("request validation failed", valErr.Fields())
	}
	return apperrors.InvalidInput(err.Error())
}

func (in *BuyerInput) toDomain() *domain.Buyer {
	return &domain.Buyer{Name: in.Name, Email: in.Email, Phone: in.Phone}
}

func (in *AddressInput) toDomain() *domain.Address {
	return &domain.Address{
		FullName:    in.FullName,
		AddressLine: in.AddressLine,
		City:        in.City,
		State:       in.State,
		PostalCode:  in.PostalCode,
		Country:     in.Country,
		Phone:       in.Phone,
	}
}
