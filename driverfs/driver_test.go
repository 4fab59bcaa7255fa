package driverfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fclairamb/protoserver/ftpserver"
)

func TestAuthenticateSuccessAndFailure(t *testing.T) {
	d := New(t.TempDir(), nil)
	d.AddAccount(Account{User: "alice", Password: "secret"})

	result, driverInstance, err := d.Authenticate(nil, "alice", "secret", "")
	require.NoError(t, err)
	require.Equal(t, ftpserver.AuthSuccess, result)
	require.NotNil(t, driverInstance)

	result, _, err = d.Authenticate(nil, "alice", "wrong", "")
	require.NoError(t, err)
	require.Equal(t, ftpserver.AuthInvalidPassword, result)

	result, _, err = d.Authenticate(nil, "bob", "anything", "")
	require.NoError(t, err)
	require.Equal(t, ftpserver.AuthInvalidUser, result)
}

func TestVerifyPlain(t *testing.T) {
	d := New(t.TempDir(), nil)
	d.AddAccount(Account{User: "alice", Password: "secret"})

	principal, ok := d.VerifyPlain("alice", "secret")
	require.True(t, ok)
	require.Equal(t, "alice", principal)

	_, ok = d.VerifyPlain("alice", "wrong")
	require.False(t, ok)
}

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := generateSelfSignedCert()
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)
}

type fakeClientContext struct {
	ftpserver.ClientContext
	user string
}

func (f *fakeClientContext) User() string { return f.user }

func TestIsAuthorizedAdminGate(t *testing.T) {
	d := New(t.TempDir(), nil)
	d.AddAccount(Account{User: "alice", Password: "secret", Admin: true})
	d.AddAccount(Account{User: "bob", Password: "secret"})

	require.True(t, d.IsAuthorized(&fakeClientContext{user: "alice"}, ftpserver.OpAdmin, "/"))
	require.False(t, d.IsAuthorized(&fakeClientContext{user: "bob"}, ftpserver.OpAdmin, "/"))
	require.True(t, d.IsAuthorized(&fakeClientContext{user: "bob"}, ftpserver.OpRead, "/"))
}
