package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/vesaa/fleetscope/internal/auth"
	"github.com/vesaa/fleetscope/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// compareHash is swapped out in tests.
var compareHash = bcrypt.CompareHashAndPassword

// dummyHash stands in for unknown usernames so a miss costs the same
// bcrypt comparison as a wrong password.
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("fleetscope-no-such-user"), bcrypt.DefaultCost)
	return h
})

type account struct {
	identity auth.Identity
	hash     []byte
}

// Directory holds the accounts allowed to log in.
type Directory struct {
	accounts map[string]account
}

// NewDirectory builds a directory from configured users. Their
// PasswordHash must already be a bcrypt hash.
func NewDirectory(users []config.User) *Directory {
	d := &Directory{accounts: make(map[string]account, len(users)+1)}
	for _, u := range users {
		d.accounts[u.Username] = account{
			identity: auth.Identity{Username: u.Username, Admin: u.Admin, Permissions: u.Permissions},
			hash:     []byte(u.PasswordHash),
		}
	}
	return d
}

// AddAdmin registers an admin account from a plaintext password, hashing
// it with bcrypt. Admins hold every read scope.
func (d *Directory) AddAdmin(username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("admin username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}
	d.accounts[username] = account{
		identity: auth.Identity{
			Username:    username,
			Admin:       true,
			Permissions: []string{auth.ScopeAgentsRead, auth.ScopeMetricsRead},
		},
		hash: hash,
	}
	return nil
}

// Authenticate checks username and password.
func (d *Directory) Authenticate(username, password string) (auth.Identity, bool) {
	acct, ok := d.accounts[username]
	if !ok {
		_ = compareHash(dummyHash(), []byte(password))
		return auth.Identity{}, false
	}
	if compareHash(acct.hash, []byte(password)) != nil {
		return auth.Identity{}, false
	}
	return acct.identity, true
}

// handleLogin accepts username + password and returns a signed JWT.
//
//	POST /api/login
//	Body: { "username": "admin", "password": "admin" }
func (a *API) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required", "code": "bad_request"})
		return
	}

	id, ok := a.users.Authenticate(body.Username, body.Password)
	if !ok {
		a.metrics.observeLogin(false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials", "code": "unauthorized"})
		return
	}

	token, err := a.gate.Issue(id, a.tokenTTL)
	if err != nil {
		a.log.Error().Err(err).Str("username", id.Username).Msg("issue token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token", "code": "fault"})
		return
	}
	a.metrics.observeLogin(true)

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int64(a.tokenTTL.Seconds()),
		"type":       "Bearer",
	})
}
