// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package scan

import (
	"errors"
	"fmt"

	"github.com/00xf5/signal-guard-sub000/internal/geo"
)

// ErrSuperseded is returned to a scan whose session was replaced by a newer
// scan before it finished. Callers drop it silently.
var ErrSuperseded = errors.New("scan superseded by a newer request")

// ProviderError means the lookup failed, so no result exists for the scan.
// NotFound is set when the provider explicitly rejected the address.
type ProviderError struct {
	Err      error
	NotFound bool
}

func newProviderError(err error) *ProviderError {
	return &ProviderError{Err: err, NotFound: errors.Is(err, geo.ErrNotFound)}
}

func (e *ProviderError) Error() string {
	var nf *geo.NotFoundError
	if errors.As(e.Err, &nf) && nf.Message != "" {
		return nf.Message
	}
	return fmt.Sprintf("lookup failed: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
