package auth

import (
	"context"
	"fmt"
	"net/url"

	"github.com/fivetwenty-io/restclient/internal/constants"
	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

// Material is what a resolved credential contributes to a request.
type Material struct {
	// Query holds parameters to add to the request URL.
	Query url.Values
	// Authorization is the Authorization header value, empty for none.
	Authorization string
}

// DelegatedTokenSource yields a live value for a delegated access token.
type DelegatedTokenSource interface {
	Token(ctx context.Context, delegated *restapi.DelegatedAccessToken) (string, error)
}

// Resolver turns the active credential and a call's constraint into request
// material.
type Resolver struct {
	store  *CredentialStore
	tokens DelegatedTokenSource
}

// NewResolver creates a resolver. tokens may be nil when no delegated
// credential will ever be installed.
func NewResolver(store *CredentialStore, tokens DelegatedTokenSource) *Resolver {
	return &Resolver{store: store, tokens: tokens}
}

// Resolve produces the auth material for one request.
//
// With no active credential the request goes out unauthenticated under
// either constraint. AssertionOnly accepts a SignedAssertion or the assertion
// owned by a DelegatedAccessToken; anything else yields ErrAuthUnavailable.
func (r *Resolver) Resolve(ctx context.Context, constraint restapi.AuthConstraint) (Material, error) {
	credential := r.store.Get()
	if credential == nil {
		return Material{}, nil
	}

	switch cred := credential.(type) {
	case *restapi.BasicKeyPair:
		credential = *cred
	case *restapi.BearerToken:
		credential = *cred
	}

	if constraint == restapi.AssertionOnly {
		return resolveAssertionOnly(credential)
	}

	switch cred := credential.(type) {
	case restapi.BasicKeyPair:
		return Material{Query: url.Values{
			constants.QueryClientID:     {cred.ClientID},
			constants.QueryClientSecret: {cred.ClientSecret},
		}}, nil

	case restapi.BearerToken:
		return Material{Authorization: cred.AuthorizationHeader()}, nil

	case *restapi.SignedAssertion:
		return assertionMaterial(cred)

	case *restapi.DelegatedAccessToken:
		if r.tokens == nil {
			return Material{}, restapi.ErrAuthUnavailable
		}

		token, err := r.tokens.Token(ctx, cred)
		if err != nil {
			return Material{}, err
		}

		return Material{Authorization: constants.SchemeToken + " " + token}, nil

	default:
		return Material{}, fmt.Errorf("%w: %T", restapi.ErrAuthUnavailable, credential)
	}
}

func resolveAssertionOnly(credential restapi.Credential) (Material, error) {
	switch cred := credential.(type) {
	case *restapi.SignedAssertion:
		return assertionMaterial(cred)

	case *restapi.DelegatedAccessToken:
		if cred.Assertion() == nil {
			return Material{}, restapi.ErrAuthUnavailable
		}

		return assertionMaterial(cred.Assertion())

	default:
		return Material{}, restapi.ErrAuthUnavailable
	}
}

func assertionMaterial(assertion *restapi.SignedAssertion) (Material, error) {
	token, err := assertion.Token()
	if err != nil {
		return Material{}, fmt.Errorf("resolving signed assertion: %w", err)
	}

	return Material{Authorization: constants.SchemeBearer + " " + token}, nil
}
