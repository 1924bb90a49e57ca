// Package models defines the data shared by the resource and client
// services: the [Order] record, the read-only [Catalog] the resource service
// serves, and the [Verified] envelope the client service wraps upstream
// payloads in.
package models

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
)

// StatusVerifiedByClient marks a payload the client service fetched with a
// verified access token.
const StatusVerifiedByClient = "VERIFIED_BY_CLIENT_SERVICE"

// Order is one catalog entry.
type Order struct {
	// ID is the stable identifier used in "/orders/{id}".
	ID int `json:"id"`

	// Name is the product name.
	Name string `json:"name"`

	// Price is the unit price in whole currency units.
	Price int `json:"price"`
}

// Validate reports whether the order can be part of a catalog.
func (o Order) Validate() error {
	if o.ID <= 0 {
		return fmt.Errorf("models: order id must be positive, got %d", o.ID)
	}
	if o.Name == "" {
		return fmt.Errorf("models: order %d has no name", o.ID)
	}
	if o.Price < 0 {
		return fmt.Errorf("models: order %d has a negative price", o.ID)
	}
	return nil
}

// Catalog is an immutable set of orders keyed by ID. It is safe for
// concurrent use.
type Catalog struct {
	byID  map[int]Order
	order []Order // sorted by ID
}

// NewCatalog builds a catalog. Duplicate or invalid orders are rejected.
func NewCatalog(orders ...Order) (*Catalog, error) {
	c := &Catalog{byID: make(map[int]Order, len(orders))}
	for _, o := range orders {
		if err := o.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[o.ID]; dup {
			return nil, fmt.Errorf("models: duplicate order id %d", o.ID)
		}
		c.byID[o.ID] = o
		c.order = append(c.order, o)
	}
	slices.SortFunc(c.order, func(a, b Order) int { return a.ID - b.ID })
	return c, nil
}

// DefaultCatalog returns the sample catalog the resource service ships with.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Order{ID: 1, Name: "MacBook Pro M3", Price: 2500},
		Order{ID: 2, Name: "Dell XPS-15", Price: 2300},
		Order{ID: 3, Name: "Lenovo ThinkPad X1-Carbon", Price: 2000},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// All returns a copy of every order in ID order.
func (c *Catalog) All() []Order {
	return slices.Clone(c.order)
}

// Lookup returns the order with id.
func (c *Catalog) Lookup(id int) (Order, bool) {
	o, ok := c.byID[id]
	return o, ok
}

// Len returns the number of orders.
func (c *Catalog) Len() int { return len(c.order) }

// ErrInvalidOrderID is returned by [ParseOrderID] for anything that is not
// a positive decimal integer.
var ErrInvalidOrderID = errors.New("models: order id must be a positive integer")

// ParseOrderID parses the "{id}" path segment.
func ParseOrderID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, ErrInvalidOrderID
	}
	return id, nil
}

// Verified is the client service response envelope.
type Verified[T any] struct {
	Orders T      `json:"orders"`
	Status string `json:"status"`
}

// NewVerified wraps payload with [StatusVerifiedByClient].
func NewVerified[T any](payload T) Verified[T] {
	return Verified[T]{Orders: payload, Status: StatusVerifiedByClient}
}
