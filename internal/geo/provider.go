// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// Package geo resolves an address to its location, network owner and the
// anonymity flags reported by the upstream intelligence source.
package geo

import (
	"context"
	"errors"
	"fmt"

	"github.com/00xf5/signal-guard-sub000/internal/models"
)

// ErrNotFound is returned when the provider answered but refused the query,
// typically because the address is invalid or reserved.
var ErrNotFound = errors.New("address not found")

// Provider looks up ip. An empty ip asks for the caller's own public address.
type Provider interface {
	Lookup(ctx context.Context, ip string) (*models.Lookup, error)
}

type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Message == "" {
		return ErrNotFound.Error()
	}
	return fmt.Sprintf("%s: %s", ErrNotFound.Error(), e.Message)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
