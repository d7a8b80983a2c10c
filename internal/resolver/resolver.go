// Package resolver maps the identifiers callers use for a student (external ID number,
// login name or internal key) onto the internal key. Nothing else in the service runs
// its own lookup chain.
package resolver

import (
	"context"

	"github.com/MikeSquared-Agency/Badger/internal/store"
)

// Source records which step of the chain produced the key.
type Source string

const (
	SourceIDNumber    Source = "id_number"
	SourceLoginName   Source = "login_name"
	SourceUserID      Source = "user_id"
	SourcePassthrough Source = "passthrough"
)

type Resolution struct {
	Key    string `json:"key"`
	Source Source `json:"source"`
}

// Found is false when no step matched and Key is the raw identifier.
func (r Resolution) Found() bool {
	return r.Source != SourcePassthrough
}

// Lookup is the subset of store.Facts the resolver needs.
type Lookup interface {
	FindUserIDByIDNumber(ctx context.Context, idNumber string) (string, error)
	FindUserIDByLoginName(ctx context.Context, loginName string) (string, error)
	UserExists(ctx context.Context, userID string) (bool, error)
}

var _ Lookup = (store.Facts)(nil)

type Resolver struct {
	lookup Lookup
}

func New(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve tries, in order: ID number, login name, existing internal key. When nothing
// matches it returns the identifier unchanged as a passthrough; absence is not an
// error. An error means the store itself failed.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (Resolution, error) {
	if identifier == "" {
		return Resolution{Key: identifier, Source: SourcePassthrough}, nil
	}

	id, err := r.lookup.FindUserIDByIDNumber(ctx, identifier)
	if err != nil {
		return Resolution{}, store.Unavailable("resolve by id number", err)
	}
	if id != "" {
		return Resolution{Key: id, Source: SourceIDNumber}, nil
	}

	id, err = r.lookup.FindUserIDByLoginName(ctx, identifier)
	if err != nil {
		return Resolution{}, store.Unavailable("resolve by login name", err)
	}
	if id != "" {
		return Resolution{Key: id, Source: SourceLoginName}, nil
	}

	ok, err := r.lookup.UserExists(ctx, identifier)
	if err != nil {
		return Resolution{}, store.Unavailable("resolve by user id", err)
	}
	if ok {
		return Resolution{Key: identifier, Source: SourceUserID}, nil
	}

	return Resolution{Key: identifier, Source: SourcePassthrough}, nil
}
