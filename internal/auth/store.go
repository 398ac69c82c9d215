package auth

import (
	"sync"

	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

// CredentialStore holds the credential active on a client. It is replaced
// wholesale, never field by field.
type CredentialStore struct {
	mu         sync.RWMutex
	credential restapi.Credential
}

// NewCredentialStore creates a store with an optional initial credential.
func NewCredentialStore(credential restapi.Credential) *CredentialStore {
	return &CredentialStore{credential: present(credential)}
}

// Get returns the active credential, or nil.
func (s *CredentialStore) Get() restapi.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.credential
}

// Set replaces the active credential. Nil, including a nil pointer of a
// credential type, clears it.
func (s *CredentialStore) Set(credential restapi.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credential = present(credential)
}

func present(credential restapi.Credential) restapi.Credential {
	switch cred := credential.(type) {
	case *restapi.BasicKeyPair:
		if cred == nil {
			return nil
		}
	case *restapi.BearerToken:
		if cred == nil {
			return nil
		}
	case *restapi.SignedAssertion:
		if cred == nil {
			return nil
		}
	case *restapi.DelegatedAccessToken:
		if cred == nil {
			return nil
		}
	}

	return credential
}
