package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calagora/caldav/internal/auth"
	"github.com/calagora/caldav/internal/config"
	"github.com/calagora/caldav/internal/dav"
	"github.com/calagora/caldav/internal/directory"
	"github.com/calagora/caldav/internal/engine/enginetest"
)

// fakeDir accepts any user with the password "secret".
type fakeDir struct{}

func (fakeDir) Close() {}

func (fakeDir) BindUser(ctx context.Context, username, password string) (*directory.User, error) {
	if password != "secret" {
		return nil, errors.New("invalid credentials")
	}
	return &directory.User{UID: username, DN: "uid=" + username, DisplayName: username}, nil
}

func (fakeDir) LookupUserByAttr(ctx context.Context, attr, value string) (*directory.User, error) {
	return &directory.User{UID: value, DN: "uid=" + value, DisplayName: value}, nil
}

func (fakeDir) LookupUserByEmail(ctx context.Context, email string) (*directory.User, error) {
	return nil, errors.New("not found")
}

func (fakeDir) LookupGroup(ctx context.Context, name string) (*directory.Group, error) {
	return nil, errors.New("not found")
}

func (fakeDir) UserGroupsACL(ctx context.Context, user *directory.User) ([]directory.GroupACL, error) {
	return nil, nil
}

func (fakeDir) IntrospectToken(ctx context.Context, token, url, authHeader string) (bool, string, error) {
	return false, "", nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		PrincipalPrefix: "/principals",
		HTTP: config.HTTPConfig{
			BasePath:    "/caldav",
			MaxICSBytes: 1 << 20,
			MaxXMLBytes: 1 << 20,
		},
		Auth: config.AuthConfig{
			EnableBasic: true,
			SuperUsers:  []string{"admin"},
		},
		LDAP: config.LDAPConfig{TokenUserAttr: "uid"},
	}
	fake := enginetest.New()
	fake.AddPrincipal("fred", "fred@example.com")
	h := dav.NewHandlers(cfg, fake, zerolog.Nop())
	chain := auth.NewChain(cfg, fakeDir{}, zerolog.Nop())
	return New(cfg, h, chain, zerolog.Nop())
}

func TestUnauthenticatedRejected(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest("PROPFIND", "/caldav/user/fred/calendar", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, 401, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")
}

func TestRunAsSuperUser(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest("PROPFIND", "/caldav/user/fred/calendar", nil)
	req.SetBasicAuth("admin", "secret")
	req.Header.Set("Run-As", "fred")
	req.Header.Set("Depth", "0")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, 207, w.Code)
	assert.Contains(t, w.Body.String(), "/user/fred/calendar")
}

func TestRunAsDeniedForRegularUser(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest("PROPFIND", "/caldav/user/fred/calendar", nil)
	req.SetBasicAuth("barney", "secret")
	req.Header.Set("Run-As", "fred")
	req.Header.Set("Depth", "0")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, 403, w.Code)
}

func TestOptionsPublic(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest("OPTIONS", "/caldav/user/fred/calendar", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Header().Get("DAV"), "calendar-access")
}
