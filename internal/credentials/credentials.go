// Package credentials resolves the provider account credentials from the
// seller configuration and the deployment defaults.
package credentials

import (
	"context"
	"strings"

	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// SellerConfig is the seller-supplied provider account.
type SellerConfig struct {
	SellerID string `yaml:"seller_id"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// SellerSource loads the seller configuration. A nil config with a nil
// error means no seller configuration exists.
type SellerSource interface {
	SellerConfig(ctx context.Context) (*SellerConfig, error)
}

// Resolver picks the credentials used to authenticate with the provider.
type Resolver struct {
	defaults shipper.Credentials
	sellers  SellerSource
	logger   *otelzap.Logger
}

// NewResolver creates a resolver. sellers may be nil.
func NewResolver(defaults shipper.Credentials, sellers SellerSource, logger *otelzap.Logger) *Resolver {
	return &Resolver{
		defaults: defaults,
		sellers:  sellers,
		logger:   logger,
	}
}

// Credentials loads the seller configuration and resolves against it.
// A failing seller source is logged and treated as absent.
func (r *Resolver) Credentials(ctx context.Context) (shipper.Credentials, error) {
	var seller *SellerConfig
	if r.sellers != nil {
		cfg, err := r.sellers.SellerConfig(ctx)
		if err != nil {
			r.logger.Ctx(ctx).Warn("Seller configuration unavailable, using defaults", zap.Error(err))
		} else {
			seller = cfg
		}
	}
	return r.Resolve(seller)
}

// Resolve returns the seller credentials when both fields are present,
// otherwise the deployment defaults when both are present.
func (r *Resolver) Resolve(seller *SellerConfig) (shipper.Credentials, error) {
	if seller != nil {
		creds := shipper.Credentials{Email: Normalize(seller.Email), Password: Normalize(seller.Password)}
		if creds.Complete() {
			return creds, nil
		}
	}

	creds := shipper.Credentials{Email: Normalize(r.defaults.Email), Password: Normalize(r.defaults.Password)}
	if creds.Complete() {
		return creds, nil
	}
	return shipper.Credentials{}, shipper.ErrMissingCredentials
}

// Normalize trims whitespace and strips one pair of matching surrounding
// quotes left behind by some config loaders.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			s = s[1 : len(s)-1]
		}
	}
	return s
}
