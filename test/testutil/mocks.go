package testutil

import (
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/TheMichaelB/vaultcheck/internal/crypto"
)

// MockCryptor mocks the crypto.Cryptor interface.
type MockCryptor struct {
	mock.Mock
}

var _ crypto.Cryptor = (*MockCryptor)(nil)

func NewMockCryptor() *MockCryptor {
	return &MockCryptor{}
}

func (m *MockCryptor) HashDirectoryID(dirID string) string {
	return crypto.HashDirectoryID(dirID)
}

func (m *MockCryptor) EncryptName(dirID, name string) (string, error) {
	args := m.Called(dirID, name)
	return args.String(0), args.Error(1)
}

func (m *MockCryptor) DecryptName(dirID, body string) (string, error) {
	args := m.Called(dirID, body)
	return args.String(0), args.Error(1)
}

func (m *MockCryptor) EncryptContent(w io.Writer, plaintext []byte) error {
	args := m.Called(w, plaintext)
	return args.Error(0)
}

func (m *MockCryptor) OpenContent(r io.Reader) (*crypto.ContentVerifier, error) {
	args := m.Called(r)
	if v := args.Get(0); v != nil {
		return v.(*crypto.ContentVerifier), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCryptor) Destroy() {
	m.Called()
}

// AssertMockExpectations verifies all mock expectations.
func AssertMockExpectations(t TestingT, mocks ...interface{}) {
	for _, m := range mocks {
		if mockObj, ok := m.(interface{ AssertExpectations(mock.TestingT) bool }); ok {
			mockObj.AssertExpectations(t)
		}
	}
}

// TestingT is a minimal interface for testing.T compatibility.
type TestingT interface {
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	FailNow()
}
