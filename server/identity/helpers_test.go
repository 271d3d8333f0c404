package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Daskott/sheguard/server/apperr"
	"github.com/Daskott/sheguard/server/auth"
	"github.com/Daskott/sheguard/server/auth/key"
	"github.com/Daskott/sheguard/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var (
	keyPairOnce sync.Once
	testKeyPair *key.KeyPair
)

func init() {
	auth.PasswordHashCost = bcrypt.MinCost
}

type fakeDispatcher struct {
	messages []Message
	err      error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, msg Message) error {
	d.messages = append(d.messages, msg)
	return d.err
}

type fakeUploader struct {
	uploaded []string
	failOn   string
}

func (u *fakeUploader) UploadImage(ctx context.Context, data []byte, filename string) (string, error) {
	if filename == u.failOn {
		return "", errors.New("bucket unavailable")
	}

	u.uploaded = append(u.uploaded, filename)
	return fmt.Sprintf("https://storage.googleapis.com/sheguard/uploads/%s", filename), nil
}

type fakeLimiter struct {
	max    int
	counts map[string]int
}

func (l *fakeLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.counts[key]++
	return l.counts[key] <= l.max, nil
}

func (l *fakeLimiter) Reset(ctx context.Context, key string) error {
	delete(l.counts, key)
	return nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type testEnv struct {
	service    *Service
	store      *models.Store
	dispatcher *fakeDispatcher
	uploader   *fakeUploader
	clock      *testClock
}

func newTestEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()

	keyPairOnce.Do(func() {
		var err error
		testKeyPair, err = key.GenerateKeyPair(2048)
		if err != nil {
			panic(err)
		}
	})

	store, err := models.OpenInMemory()
	require.Nil(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store:      store,
		dispatcher: &fakeDispatcher{},
		uploader:   &fakeUploader{},
		clock:      &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}

	config := Config{
		Store:      store,
		Dispatcher: env.dispatcher,
		Uploader:   env.uploader,
		Tokens:     auth.NewTokenManager(testKeyPair, env.clock.Now),
		Now:        env.clock.Now,
		ExposeOtp:  true,
		Admins:     []string{"admin@example.com"},
	}
	for _, opt := range opts {
		opt(&config)
	}

	env.service = NewService(config)
	return env
}

// verifiedSession takes contact through OTP verification and returns its
// session.
func (env *testEnv) verifiedSession(t *testing.T, contact string) Session {
	t.Helper()
	ctx := context.Background()

	issued, err := env.service.IssueOtp(ctx, contact)
	require.Nil(t, err)

	verified, err := env.service.VerifyOtp(ctx, contact, issued.Code)
	require.Nil(t, err)

	session, err := env.service.ResolveSession(ctx, verified.Token)
	require.Nil(t, err)

	return *session
}

// provision onboards a new account with role at the given coordinates.
func (env *testEnv) provision(t *testing.T, contact string, role models.Role, lat, lng string) Session {
	t.Helper()

	input := ProfileInput{Role: string(role), Name: contact, Lat: lat, Lng: lng}
	if role == models.RoleVolunteer {
		input.NidNumber = "1990123456789"
		input.NidPhoto = &Upload{Filename: "nid.jpg", Data: []byte("nid")}
	}

	result, err := env.service.CompleteProfile(context.Background(), env.verifiedSession(t, contact), input)
	require.Nil(t, err)

	session, err := env.service.ResolveSession(context.Background(), result.Token)
	require.Nil(t, err)

	return *session
}

func assertKind(t *testing.T, kind apperr.Kind, err error) {
	t.Helper()
	assert.Truef(t, apperr.IsKind(err, kind), "expected %v error, got: %v", kind, err)
}
