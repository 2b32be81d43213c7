package auth

type APIKeyServicePort interface {
	CreateAPIKey(name string) (*APIKey, string, error)
	ListAPIKeys() ([]APIKey, error)
	RevokeAPIKey(globalID string) error
	VerifyAPIKey(plain string) (*APIKey, error)
}

var _ APIKeyServicePort = (*APIKeyService)(nil)
