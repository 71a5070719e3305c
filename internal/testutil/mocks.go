package testutil

import (
	"context"

	"github.com/dgellow/bxm/internal/authsync"
	"github.com/stretchr/testify/mock"
)

type MockTokenIssuer struct {
	mock.Mock
}

func (m *MockTokenIssuer) CreateCustomToken(ctx context.Context, idToken string) (string, error) {
	args := m.Called(ctx, idToken)
	return args.String(0), args.Error(1)
}

// MockRecipient records broadcasts; Post returns whatever the expectation says
type MockRecipient struct {
	mock.Mock
	RecipientID   string
	RecipientName string
}

func (m *MockRecipient) ID() string   { return m.RecipientID }
func (m *MockRecipient) Name() string { return m.RecipientName }

func (m *MockRecipient) Post(ctx context.Context, b authsync.Broadcast) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}
