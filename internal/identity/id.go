package identity

import "github.com/google/uuid"

// EntryIDProvider issues identifiers for child records such as notes. The
// ids only need to be unique within one process lifetime.
type EntryIDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an EntryIDProvider that issues UUIDv7
// identifiers, which sort by creation time.
func NewUUIDProvider() EntryIDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
