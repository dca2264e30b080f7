package github

import (
	"context"
	"errors"
	"sync"
)

// Credential is an upstream token plus its granted scopes.
type Credential struct {
	Token  string
	Scopes []string
}

// CredentialSource supplies a credential at startup and on refresh. It is
// an external collaborator; the bridge never persists tokens.
type CredentialSource interface {
	Credential(ctx context.Context) (Credential, error)
}

// StaticSource wraps a fixed token, e.g. one read from the environment.
type StaticSource struct {
	cred Credential
}

// NewStaticSource returns a source for a fixed token.
func NewStaticSource(token string, scopes ...string) *StaticSource {
	return &StaticSource{cred: Credential{Token: token, Scopes: scopes}}
}

func (s *StaticSource) Credential(_ context.Context) (Credential, error) {
	if s.cred.Token == "" {
		return Credential{}, errors.New("github token not configured")
	}
	return s.cred, nil
}

// credentialStore holds the active credential shared by all in-flight
// calls. Reads are lock-cheap and never observe a torn credential; refresh
// is a rare, globally serialized write.
type credentialStore struct {
	mu     sync.RWMutex
	source CredentialSource
	cred   Credential
}

func newCredentialStore(ctx context.Context, source CredentialSource) (*credentialStore, error) {
	cred, err := source.Credential(ctx)
	if err != nil {
		return nil, err
	}
	return &credentialStore{source: source, cred: cred}, nil
}

func (s *credentialStore) get() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// refresh re-reads the credential from the source. New calls block only for
// the duration of the swap itself.
func (s *credentialStore) refresh(ctx context.Context) error {
	cred, err := s.source.Credential(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
	return nil
}
