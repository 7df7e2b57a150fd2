package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/laila2005/messaging-system/pkg/store"
)

// AuthState is the per-connection authentication protocol state.
type AuthState uint8

const (
	StateConnected AuthState = iota
	StateAwaitChoice
	StateAwaitUsername
	StateAwaitPassword
	StateAuthenticated
	StateRejected
)

// Wire tokens for the authentication exchange.
const (
	TokenAuthRequired  = "AUTH_REQUIRED"
	TokenEnterUsername = "ENTER_USERNAME"
	TokenEnterPassword = "ENTER_PASSWORD"
	TokenAuthSuccess   = "AUTH_SUCCESS"
	TokenAuthFailed    = "AUTH_FAILED"

	choiceLogin    = "LOGIN"
	choiceRegister = "REGISTER"
)

// ErrAuthRejected indicates the exchange ended in the REJECTED state.
var ErrAuthRejected = errors.New("authentication rejected")

// Authenticator drives the registration/login exchange for one connection.
// On success the connection is registered in the live registry before
// AUTH_SUCCESS is sent, so the client never sees success for a username that
// lost a liveness race.
type Authenticator struct {
	store          store.CredentialStore
	registry       *Registry
	minUsernameLen int
	maxAttempts    int // failed credential attempts before forced disconnect
	maxBadTokens   int // unparseable inputs tolerated before forced disconnect
}

// NewAuthenticator wires the state machine to its collaborators.
func NewAuthenticator(credStore store.CredentialStore, registry *Registry, minUsernameLen, maxAttempts int) *Authenticator {
	return &Authenticator{
		store:          credStore,
		registry:       registry,
		minUsernameLen: minUsernameLen,
		maxAttempts:    maxAttempts,
		maxBadTokens:   5,
	}
}

// HashPassword digests the raw secret with SHA-256. This runs before the
// password leaves the authentication boundary; the store only ever sees the
// hex digest, and nothing here logs the input.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Run drives the exchange to a terminal state. Returns the authenticated
// username after the connection is registered, ErrAuthRejected if the
// exchange ended in REJECTED, or the transport error that interrupted it.
// The caller owns deregistration from the point Run returns successfully.
func (a *Authenticator) Run(conn *SafeConn) (string, error) {
	state := StateConnected
	attempts := 0
	badTokens := 0
	var choice, username string

	for {
		switch state {
		case StateConnected:
			if err := conn.WriteLine(TokenAuthRequired); err != nil {
				return "", err
			}
			state = StateAwaitChoice

		case StateAwaitChoice:
			line, err := conn.ReadLine()
			if err != nil {
				return "", err
			}
			switch strings.ToUpper(strings.TrimSpace(line)) {
			case choiceLogin:
				choice = choiceLogin
			case choiceRegister:
				choice = choiceRegister
			default:
				// Unexpected token: re-prompt without changing state.
				badTokens++
				if badTokens >= a.maxBadTokens {
					state = StateRejected
					continue
				}
				if err := conn.WriteLine(TokenAuthRequired); err != nil {
					return "", err
				}
				continue
			}
			if err := conn.WriteLine(TokenEnterUsername); err != nil {
				return "", err
			}
			state = StateAwaitUsername

		case StateAwaitUsername:
			line, err := conn.ReadLine()
			if err != nil {
				return "", err
			}
			username = strings.TrimSpace(line)
			if len(username) < a.minUsernameLen {
				badTokens++
				if badTokens >= a.maxBadTokens {
					state = StateRejected
					continue
				}
				if err := conn.WriteLine(TokenEnterUsername); err != nil {
					return "", err
				}
				continue
			}
			// A name that is already persisted or currently online can
			// never be registered. Login existence is checked at
			// credential verification instead.
			if choice == choiceRegister && (a.store.UsernameExists(username) || a.registry.UsernameLive(username)) {
				state = a.failAttempt(conn, &attempts)
				continue
			}
			if err := conn.WriteLine(TokenEnterPassword); err != nil {
				return "", err
			}
			state = StateAwaitPassword

		case StateAwaitPassword:
			line, err := conn.ReadLine()
			if err != nil {
				return "", err
			}
			passwordHash := HashPassword(line)

			ok := false
			if choice == choiceLogin {
				ok = a.store.VerifyCredential(username, passwordHash)
			} else {
				createErr := a.store.CreateCredential(username, passwordHash)
				if createErr != nil && !errors.Is(createErr, store.ErrUsernameTaken) {
					errorLog.Printf("Credential creation failed for %s: %v", username, createErr)
				}
				ok = createErr == nil
			}

			// Registration in the live registry is part of the success
			// transition: a conflict here (username came online while we
			// were authenticating) rejects the attempt.
			if ok && !a.registry.Register(conn, username) {
				ok = false
			}

			if !ok {
				state = a.failAttempt(conn, &attempts)
				continue
			}
			state = StateAuthenticated

		case StateAuthenticated:
			if err := conn.WriteLine(TokenAuthSuccess); err != nil {
				a.registry.Deregister(conn)
				return "", err
			}
			return username, nil

		case StateRejected:
			// Best effort: the peer may already be gone.
			_ = conn.WriteLine(TokenAuthFailed)
			return "", ErrAuthRejected
		}
	}
}

// failAttempt records one failed authentication attempt and returns the next
// state: back to AWAIT_CHOICE while attempts remain, REJECTED once the bound
// is reached.
func (a *Authenticator) failAttempt(conn *SafeConn, attempts *int) AuthState {
	*attempts++
	if *attempts >= a.maxAttempts {
		return StateRejected
	}
	if err := conn.WriteLine(TokenAuthFailed); err != nil {
		return StateRejected
	}
	if err := conn.WriteLine(TokenAuthRequired); err != nil {
		return StateRejected
	}
	return StateAwaitChoice
}
