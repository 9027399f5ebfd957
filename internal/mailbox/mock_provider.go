package mailbox

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProviderClient is a mock implementation of ProviderClient for testing.
type MockProviderClient struct {
	mock.Mock
}

// AuthCodeURL is the mock implementation of the AuthCodeURL method.
func (m *MockProviderClient) AuthCodeURL(state string) string {
	args := m.Called(state)
	return args.String(0)
}

// Exchange is the mock implementation of the Exchange method.
func (m *MockProviderClient) Exchange(ctx context.Context, code string) (Credentials, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(Credentials), args.Error(1)
}

// AuthenticatedAddress is the mock implementation of the AuthenticatedAddress method.
func (m *MockProviderClient) AuthenticatedAddress(ctx context.Context, creds Credentials) (string, error) {
	args := m.Called(ctx, creds)
	return args.String(0), args.Error(1)
}

// Watch is the mock implementation of the Watch method.
func (m *MockProviderClient) Watch(ctx context.Context, creds Credentials) (Watch, error) {
	args := m.Called(ctx, creds)
	return args.Get(0).(Watch), args.Error(1)
}

// StopWatch is the mock implementation of the StopWatch method.
func (m *MockProviderClient) StopWatch(ctx context.Context, creds Credentials, watch Watch) error {
	args := m.Called(ctx, creds, watch)
	return args.Error(0) //nolint:wrapcheck
}
