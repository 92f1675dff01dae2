package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/zixialu/tinyapp/internal/auth"
	"github.com/zixialu/tinyapp/internal/credentials"
	"github.com/zixialu/tinyapp/internal/db/memorystorage"
	"github.com/zixialu/tinyapp/internal/tokengen"
)

const testShortURLBase = "http://localhost:8080"

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type testEnv struct {
	svc      *Service
	sessions *auth.Manager
	db       *memorystorage.MemoryStorage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := memorystorage.New(tokengen.New(tokengen.DefaultLength))
	require.NoError(t, err)
	sessions := auth.New("session", testSigningKey, auth.DefaultLifetime)

	return &testEnv{
		svc:      New(db, sessions, credentials.NewHasher(bcrypt.MinCost), testShortURLBase),
		sessions: sessions,
		db:       db,
	}
}

func (e *testEnv) registeredSession(t *testing.T, email string) *auth.Session {
	t.Helper()
	sess := e.sessions.NewSession()
	_, err := e.svc.Register(context.Background(), sess, email, "pw-"+email)
	require.NoError(t, err)
	return sess
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.sessions.NewSession()

	usr, err := env.svc.Register(ctx, sess, "a@x.com", "pw1")
	require.NoError(t, err)
	require.True(t, sess.IsAuthenticated())
	assert.Equal(t, usr.ID, sess.UserID)

	link, err := env.svc.CreateLink(ctx, sess, "http://example.com")
	require.NoError(t, err)
	token := link.ShortToken

	links, err := env.svc.ListLinks(ctx, sess)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, token, links[0].ShortToken)
	assert.Equal(t, "http://example.com", links[0].LongURL)

	for i := 0; i < 2; i++ {
		longURL, err := env.svc.Visit(ctx, sess, token)
		require.NoError(t, err)
		assert.Equal(t, "http://example.com", longURL)
	}

	visited, err := env.svc.GetLink(ctx, sess, token)
	require.NoError(t, err)
	assert.Equal(t, int64(2), visited.VisitCount)
	assert.Equal(t, int64(1), visited.UniqueVisitCount)

	require.NoError(t, env.svc.DeleteLink(ctx, sess, token))

	_, err = env.db.GetLink(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid input", func(t *testing.T) {
		env := newTestEnv(t)
		testCases := []struct {
			name     string
			email    string
			password string
		}{
			{name: "empty email", email: "", password: "pw1"},
			{name: "blank email", email: "   ", password: "pw1"},
			{name: "empty password", email: "a@x.com", password: ""},
			{name: "password too long", email: "a@x.com", password: strings.Repeat("p", maxPasswordBytes+1)},
		}
		for _, testCase := range testCases {
			t.Run(testCase.name, func(t *testing.T) {
				sess := env.sessions.NewSession()
				_, err := env.svc.Register(ctx, sess, testCase.email, testCase.password)
				assert.ErrorIs(t, err, ErrInvalidInput)
				assert.False(t, sess.IsAuthenticated())
			})
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		env := newTestEnv(t)
		first := env.sessions.NewSession()
		original, err := env.svc.Register(ctx, first, "a@x.com", "pw1")
		require.NoError(t, err)

		second := env.sessions.NewSession()
		_, err = env.svc.Register(ctx, second, "A@X.com", "pw2")
		assert.ErrorIs(t, err, ErrConflict)
		assert.False(t, second.IsAuthenticated())

		stored, err := env.db.GetUserByID(ctx, original.ID)
		require.NoError(t, err)
		assert.Equal(t, original, stored)

		_, err = env.svc.Login(ctx, env.sessions.NewSession(), "a@x.com", "pw2")
		assert.ErrorIs(t, err, ErrAuthFailed)
		_, err = env.svc.Login(ctx, env.sessions.NewSession(), "a@x.com", "pw1")
		assert.NoError(t, err)
	})

	t.Run("password is hashed", func(t *testing.T) {
		env := newTestEnv(t)
		usr, err := env.svc.Register(ctx, env.sessions.NewSession(), "a@x.com", "pw1")
		require.NoError(t, err)
		assert.NotEqual(t, "pw1", usr.PasswordHash)
		assert.NotEmpty(t, usr.PasswordHash)
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	registered, err := env.svc.Register(ctx, env.sessions.NewSession(), "a@x.com", "pw1")
	require.NoError(t, err)

	t.Run("correct credentials", func(t *testing.T) {
		sess := env.sessions.NewSession()
		usr, err := env.svc.Login(ctx, sess, " a@x.com ", "pw1")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, usr.ID)
		assert.Equal(t, registered.ID, sess.UserID)
	})

	failures := []struct {
		name     string
		email    string
		password string
	}{
		{name: "wrong password", email: "a@x.com", password: "pw2"},
		{name: "unknown email", email: "b@x.com", password: "pw1"},
		{name: "empty password", email: "a@x.com", password: ""},
	}
	for _, failure := range failures {
		t.Run(failure.name, func(t *testing.T) {
			sess := env.sessions.NewSession()
			before := *sess

			_, err := env.svc.Login(ctx, sess, failure.email, failure.password)
			assert.ErrorIs(t, err, ErrAuthFailed)
			assert.Equal(t, before, *sess)
		})
	}
}

func TestLogoutResetsSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.registeredSession(t, "a@x.com")
	oldID := sess.ID

	env.svc.Logout(ctx, sess)

	assert.False(t, sess.IsAuthenticated())
	assert.NotEqual(t, oldID, sess.ID)

	_, err := env.svc.CreateLink(ctx, sess, "http://example.com")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestCreateLink(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.registeredSession(t, "a@x.com")

	t.Run("anonymous", func(t *testing.T) {
		_, err := env.svc.CreateLink(ctx, env.sessions.NewSession(), "http://example.com")
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("session of an unknown user", func(t *testing.T) {
		stale := env.sessions.NewSession()
		env.sessions.SetUser(stale, "gone00")
		_, err := env.svc.CreateLink(ctx, stale, "http://example.com")
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	for _, invalid := range []string{"", "example.com", "ftp://example.com", "http://", "h t t p://example.com"} {
		t.Run("invalid url "+invalid, func(t *testing.T) {
			_, err := env.svc.CreateLink(ctx, sess, invalid)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	t.Run("created", func(t *testing.T) {
		link, err := env.svc.CreateLink(ctx, sess, "https://example.com/some/path?q=1")
		require.NoError(t, err)

		assert.Len(t, link.ShortToken, tokengen.DefaultLength)
		assert.Equal(t, sess.UserID, link.OwnerID)
		assert.Equal(t, "https://example.com/some/path?q=1", link.LongURL)
		assert.Zero(t, link.VisitCount)
		assert.Zero(t, link.UniqueVisitCount)
		assert.False(t, link.CreatedAt.IsZero())
	})
}

func TestListLinks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.registeredSession(t, "alice@x.com")
	bob := env.registeredSession(t, "bob@x.com")

	_, err := env.svc.CreateLink(ctx, alice, "http://alice.example")
	require.NoError(t, err)
	_, err = env.svc.CreateLink(ctx, bob, "http://bob.example")
	require.NoError(t, err)

	links, err := env.svc.ListLinks(ctx, alice)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "http://alice.example", links[0].LongURL)

	links, err = env.svc.ListLinks(ctx, env.sessions.NewSession())
	require.NoError(t, err)
	assert.NotNil(t, links)
	assert.Empty(t, links)
}

func TestOwnership(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.registeredSession(t, "owner@x.com")
	stranger := env.registeredSession(t, "stranger@x.com")
	anonymous := env.sessions.NewSession()

	link, err := env.svc.CreateLink(ctx, owner, "http://before.example")
	require.NoError(t, err)
	token := link.ShortToken

	for name, sess := range map[string]*auth.Session{"stranger": stranger, "anonymous": anonymous} {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.GetLink(ctx, sess, token)
			assert.ErrorIs(t, err, ErrForbidden)

			_, err = env.svc.UpdateLink(ctx, sess, token, "http://evil.example")
			assert.ErrorIs(t, err, ErrForbidden)

			assert.ErrorIs(t, env.svc.DeleteLink(ctx, sess, token), ErrForbidden)

			stored, err := env.db.GetLink(ctx, token)
			require.NoError(t, err)
			assert.Equal(t, link, stored)
		})
	}

	t.Run("absent token", func(t *testing.T) {
		_, err := env.svc.GetLink(ctx, stranger, "nope00")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = env.svc.UpdateLink(ctx, stranger, "nope00", "http://x.example")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, env.svc.DeleteLink(ctx, stranger, "nope00"), ErrNotFound)
	})

	t.Run("owner", func(t *testing.T) {
		_, err := env.svc.UpdateLink(ctx, owner, token, "not a url")
		assert.ErrorIs(t, err, ErrInvalidInput)

		updated, err := env.svc.UpdateLink(ctx, owner, token, "http://after.example")
		require.NoError(t, err)
		assert.Equal(t, "http://after.example", updated.LongURL)

		longURL, err := env.svc.Visit(ctx, anonymous, token)
		require.NoError(t, err)
		assert.Equal(t, "http://after.example", longURL)

		require.NoError(t, env.svc.DeleteLink(ctx, owner, token))
		_, err = env.svc.GetLink(ctx, owner, token)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestVisit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.registeredSession(t, "owner@x.com")
	link, err := env.svc.CreateLink(ctx, owner, "http://example.com")
	require.NoError(t, err)
	token := link.ShortToken

	counters := func() (int64, int64) {
		stored, err := env.db.GetLink(ctx, token)
		require.NoError(t, err)
		return stored.VisitCount, stored.UniqueVisitCount
	}

	first := env.sessions.NewSession()
	second := env.sessions.NewSession()

	_, err = env.svc.Visit(ctx, first, token)
	require.NoError(t, err)
	_, err = env.svc.Visit(ctx, first, token)
	require.NoError(t, err)
	visits, unique := counters()
	assert.Equal(t, int64(2), visits)
	assert.Equal(t, int64(1), unique)

	_, err = env.svc.Visit(ctx, second, token)
	require.NoError(t, err)
	visits, unique = counters()
	assert.Equal(t, int64(3), visits)
	assert.Equal(t, int64(2), unique)

	env.svc.Logout(ctx, first)
	_, err = env.svc.Visit(ctx, first, token)
	require.NoError(t, err)
	visits, unique = counters()
	assert.Equal(t, int64(4), visits)
	assert.Equal(t, int64(3), unique)

	_, err = env.svc.Visit(ctx, first, "nope00")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVisitConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.registeredSession(t, "owner@x.com")
	link, err := env.svc.CreateLink(ctx, owner, "http://example.com")
	require.NoError(t, err)

	const sessionsCount = 40
	const visitsPerSession = 25

	var wg sync.WaitGroup
	for i := 0; i < sessionsCount; i++ {
		sess := env.sessions.NewSession()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < visitsPerSession; j++ {
				_, err := env.svc.Visit(ctx, sess, link.ShortToken)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	stored, err := env.db.GetLink(ctx, link.ShortToken)
	require.NoError(t, err)
	assert.Equal(t, int64(sessionsCount*visitsPerSession), stored.VisitCount)
	assert.Equal(t, int64(sessionsCount), stored.UniqueVisitCount)
}

func TestGetInternalStats(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sess := env.registeredSession(t, "a@x.com")
	env.registeredSession(t, "b@x.com")
	_, err := env.svc.CreateLink(ctx, sess, "http://example.com")
	require.NoError(t, err)

	stats, err := env.svc.GetInternalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Links)
	assert.Equal(t, int64(2), stats.Users)
}

func TestGetShortURL(t *testing.T) {
	svc := New(nil, nil, nil, "http://short.example/")
	assert.Equal(t, "http://short.example/u/abc123", svc.GetShortURL("abc123"))
}
