package server

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laila2005/messaging-system/pkg/store"
)

type authResult struct {
	username string
	err      error
}

// authClient drives the peer side of an authentication exchange. Every read
// carries a deadline so a wedged state machine fails the test instead of
// hanging it.
type authClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// startAuth runs the authenticator against one end of a pipe and hands the
// test the other end plus a channel carrying Run's result.
func startAuth(t *testing.T, a *Authenticator) (*authClient, *SafeConn, chan authResult) {
	t.Helper()

	serverEnd, clientEnd := net.Pipe()
	t.Cleanup(func() {
		serverEnd.Close()
		clientEnd.Close()
	})

	conn := NewSafeConn(serverEnd)
	done := make(chan authResult, 1)
	go func() {
		username, err := a.Run(conn)
		done <- authResult{username, err}
	}()

	return &authClient{t: t, conn: clientEnd, reader: bufio.NewReader(clientEnd)}, conn, done
}

func (c *authClient) expect(token string) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)
	assert.Equal(c.t, token, strings.TrimRight(line, "\r\n"))
}

func (c *authClient) send(line string) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *authClient) result(done chan authResult) authResult {
	c.t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(2 * time.Second):
		c.t.Fatal("authenticator did not reach a terminal state")
		return authResult{}
	}
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *Registry, store.CredentialStore) {
	t.Helper()
	credStore := store.NewMemStore()
	t.Cleanup(func() { credStore.Close() })
	registry := NewRegistry()
	return NewAuthenticator(credStore, registry, 3, 3), registry, credStore
}

func TestAuthRegisterSuccess(t *testing.T) {
	auth, registry, credStore := newTestAuthenticator(t)
	client, _, done := startAuth(t, auth)

	client.expect(TokenAuthRequired)
	client.send("REGISTER")
	client.expect(TokenEnterUsername)
	client.send("alice")
	client.expect(TokenEnterPassword)
	client.send("hunter22")
	client.expect(TokenAuthSuccess)

	res := client.result(done)
	require.NoError(t, res.err)
	assert.Equal(t, "alice", res.username)

	// Success means registered and persisted
	assert.True(t, registry.UsernameLive("alice"))
	assert.True(t, credStore.VerifyCredential("alice", HashPassword("hunter22")))
}

func TestAuthLoginSuccess(t *testing.T) {
	auth, registry, credStore := newTestAuthenticator(t)
	require.NoError(t, credStore.CreateCredential("alice", HashPassword("hunter22")))

	client, _, done := startAuth(t, auth)

	client.expect(TokenAuthRequired)
	client.send("login") // choice tokens are case-insensitive
	client.expect(TokenEnterUsername)
	client.send("alice")
	client.expect(TokenEnterPassword)
	client.send("hunter22")
	client.expect(TokenAuthSuccess)

	res := client.result(done)
	require.NoError(t, res.err)
	assert.Equal(t, "alice", res.username)
	assert.True(t, registry.UsernameLive("alice"))
}

func TestAuthLoginWrongPasswordExhaustsAttempts(t *testing.T) {
	auth, registry, credStore := newTestAuthenticator(t)
	require.NoError(t, credStore.CreateCredential("alice", HashPassword("correct")))

	client, _, done := startAuth(t, auth)

	client.expect(TokenAuthRequired)

	// Two failed attempts loop back to the choice prompt
	for i := 0; i < 2; i++ {
		client.send("LOGIN")
		client.expect(TokenEnterUsername)
		client.send("alice")
		client.expect(TokenEnterPassword)
		client.send("wrong")
		client.expect(TokenAuthFailed)
		client.expect(TokenAuthRequired)
	}

	// The third exhausts the bound and is terminal
	client.send("LOGIN")
	client.expect(TokenEnterUsername)
	client.send("alice")
	client.expect(TokenEnterPassword)
	client.send("wrong")
	client.expect(TokenAuthFailed)

	res := client.result(done)
	assert.ErrorIs(t, res.err, ErrAuthRejected)
	assert.False(t, registry.UsernameLive("alice"))
}

func TestAuthRegisterTakenUsernameThenLogin(t *testing.T) {
	auth, _, credStore := newTestAuthenticator(t)
	require.NoError(t, credStore.CreateCredential("alice", HashPassword("hunter22")))

	client, _, done := startAuth(t, auth)

	client.expect(TokenAuthRequired)
	client.send("REGISTER")
	client.expect(TokenEnterUsername)
	client.send("alice")
	client.expect(TokenAuthFailed)
	client.expect(TokenAuthRequired)

	// Same connection recovers by logging in instead
	client.send("LOGIN")
	client.expect(TokenEnterUsername)
	client.send("alice")
	client.expect(TokenEnterPassword)
	client.send("hunter22")
	client.expect(TokenAuthSuccess)

	res := client.result(done)
	require.NoError(t, res.err)
	assert.Equal(t, "alice", res.username)
}

func TestAuthRegisterLiveUsernameRejected(t *testing.T) {
	auth, registry, _ := newTestAuthenticator(t)

	// alice is already online, though never persisted
	require.True(t, registry.Register(newTestConn(t), "alice"))

	client, _, done := startAuth(t, auth)

	client.expect(TokenAuthRequired)
	client.send("REGISTER")
	client.expect(TokenEnterUsername)
	client.send("alice")
	client.expect(TokenAuthFailed)
	client.expect(TokenAuthRequired)

	client.send("REGISTER")
	client.expect(TokenEnterUsername)
	client.send("bob")
	client.expect(TokenEnterPassword)
	client.send("pass")
	client.expect(TokenAuthSuccess)

	res := client.result(done)
	require.NoError(t, res.err)
	assert.Equal(t, "bob", res.username)
}

func TestAuthInvalidChoiceReprompts(t *testing.T) {
	auth, _, _ := newTestAuthenticator(t)
	client, _, done := startAuth(t, auth)

	client.expect(TokenAuthRequired)
	client.send("HELLO")
	client.expect(TokenAuthRequired)
	client.send("REGISTER")
	client.expect(TokenEnterUsername)
	client.send("alice")
	client.expect(TokenEnterPassword)
	client.send("pass")
	client.expect(TokenAuthSuccess)

	res := client.result(done)
	require.NoError(t, res.err)
}

func TestAuthShortUsernameReprompts(t *testing.T) {
	auth, _, _ := newTestAuthenticator(t)
	client, _, done := startAuth(t, auth)

	client.expect(TokenAuthRequired)
	client.send("REGISTER")
	client.expect(TokenEnterUsername)
	client.send("al") // below the three-character minimum
	client.expect(TokenEnterUsername)
	client.send("alice")
	client.expect(TokenEnterPassword)
	client.send("pass")
	client.expect(TokenAuthSuccess)

	res := client.result(done)
	require.NoError(t, res.err)
}

func TestAuthBadTokenFlood(t *testing.T) {
	auth, _, _ := newTestAuthenticator(t)
	client, _, done := startAuth(t, auth)

	client.expect(TokenAuthRequired)
	for i := 0; i < 4; i++ {
		client.send("GARBAGE")
		client.expect(TokenAuthRequired)
	}
	client.send("GARBAGE") // fifth unparseable input is terminal
	client.expect(TokenAuthFailed)

	res := client.result(done)
	assert.ErrorIs(t, res.err, ErrAuthRejected)
}

func TestAuthDisconnectMidExchange(t *testing.T) {
	auth, registry, _ := newTestAuthenticator(t)
	client, _, done := startAuth(t, auth)

	client.expect(TokenAuthRequired)
	client.send("REGISTER")
	client.expect(TokenEnterUsername)
	client.conn.Close()

	res := client.result(done)
	assert.Error(t, res.err)
	assert.NotErrorIs(t, res.err, ErrAuthRejected)
	assert.Equal(t, 0, registry.Count())
}

func TestHashPassword(t *testing.T) {
	// Known SHA-256 digest, hex-encoded
	assert.Equal(t,
		"5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8",
		HashPassword("password"))

	assert.Len(t, HashPassword(""), 64)
	assert.NotEqual(t, HashPassword("a"), HashPassword("b"))
}
