package catalogue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/pidsync/internal/core/ports"
	"github.com/kirillkom/pidsync/internal/infrastructure/catalogue/dspace"
	"github.com/kirillkom/pidsync/internal/infrastructure/catalogue/legacy"
	"github.com/kirillkom/pidsync/internal/infrastructure/resilience"
)

const (
	VariantCurrent = "current"
	VariantLegacy  = "legacy"
)

type Options struct {
	Variant   string
	BaseURL   string
	UIBaseURL string
	Username  string
	Password  string
	Timeout   time.Duration
	TokenTTL  time.Duration
	Guard     *resilience.Guard
}

// New selects the catalogue implementation for the configured variant.
func New(opts Options) (ports.CatalogueSource, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Variant)) {
	case "", VariantCurrent:
		return dspace.New(dspace.Options{
			BaseURL:   opts.BaseURL,
			UIBaseURL: opts.UIBaseURL,
			Username:  opts.Username,
			Password:  opts.Password,
			Timeout:   opts.Timeout,
			TokenTTL:  opts.TokenTTL,
			Guard:     opts.Guard,
		}), nil
	case VariantLegacy:
		return legacy.New(legacy.Options{
			BaseURL:   opts.BaseURL,
			UIBaseURL: opts.UIBaseURL,
			Email:     opts.Username,
			Password:  opts.Password,
			Timeout:   opts.Timeout,
			TokenTTL:  opts.TokenTTL,
			Guard:     opts.Guard,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported catalogue variant %q", opts.Variant)
	}
}
