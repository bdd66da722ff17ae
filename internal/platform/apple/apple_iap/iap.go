package apple_iap

import (
	"errors"

	"github.com/awa/go-iap/appstore/api"
)

type GetAppleIAPClientOptions struct {
	KeyID      string
	KeyContent string
	BundleID   string
	Issuer     string
	Sandbox    bool
}

// GetAppleIAPClient builds an App Store Server API client for transaction
// lookups. Credit pack purchases are consumables, so only the transaction
// endpoints are needed here.
func GetAppleIAPClient(opts *GetAppleIAPClientOptions) (*api.StoreClient, error) {
	if opts == nil {
		return nil, errors.New("opts is nil")
	}

	c := &api.StoreConfig{
		KeyContent: []byte(opts.KeyContent),
		KeyID:      opts.KeyID,
		BundleID:   opts.BundleID,
		Issuer:     opts.Issuer,
		Sandbox:    opts.Sandbox,
	}

	return api.NewStoreClient(c), nil
}
