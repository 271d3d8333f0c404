package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Daskott/sheguard/server/auth"
	"github.com/Daskott/sheguard/server/auth/key"
	"github.com/Daskott/sheguard/server/gstorage"
	"github.com/Daskott/sheguard/server/identity"
	"github.com/Daskott/sheguard/server/models"
	"github.com/gorilla/mux"
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

type capturingDispatcher struct {
	mu       sync.Mutex
	messages []identity.Message
}

func (d *capturingDispatcher) Dispatch(ctx context.Context, msg identity.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
	return nil
}

type testServer struct {
	router     *mux.Router
	store      *models.Store
	dispatcher *capturingDispatcher
}

type response struct {
	Success  bool                   `json:"success"`
	Message  string                 `json:"message"`
	Category string                 `json:"category"`
	Errors   []string               `json:"errors"`
	Data     map[string]interface{} `json:"data"`
}

func newTestServer(t *testing.T) *testServer {
	keyPairOnce.Do(func() {
		var err error
		testKeyPair, err = key.GenerateKeyPair(2048)
		require.NoError(t, err)
	})

	store, err := models.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	uploader, err := gstorage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	dispatcher := &capturingDispatcher{}
	app := &App{
		store:   store,
		keyPair: testKeyPair,
		service: identity.NewService(identity.Config{
			Store:      store,
			Dispatcher: dispatcher,
			Uploader:   uploader,
			Tokens:     auth.NewTokenManager(testKeyPair, time.Now),
			Logger:     logg,
			ExposeOtp:  true,
			Admins:     []string{"admin@sheguard.org"},
		}),
	}

	return &testServer{router: NewRouter(app), store: store, dispatcher: dispatcher}
}

func (ts *testServer) do(t *testing.T, req *http.Request, token string) (*httptest.ResponseRecorder, response) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	body := response{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func (ts *testServer) doJSON(t *testing.T, method, path string, payload interface{}, token string) (*httptest.ResponseRecorder, response) {
	buf := &bytes.Buffer{}
	if payload != nil {
		require.NoError(t, json.NewEncoder(buf).Encode(payload))
	}

	return ts.do(t, httptest.NewRequest(method, path, buf), token)
}

func (ts *testServer) doForm(t *testing.T, path string, fields map[string]string, files map[string][]byte, token string) (*httptest.ResponseRecorder, response) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}
	for name, data := range files {
		part, err := writer.CreateFormFile(name, name+".png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return ts.do(t, req, token)
}

// verifiedToken runs the OTP flow for contact and returns the session token.
func (ts *testServer) verifiedToken(t *testing.T, contact string) string {
	_, body := ts.doJSON(t, http.MethodPost, "/v1/auth/send-otp", map[string]string{"contactInfo": contact}, "")
	require.True(t, body.Success, body.Message)

	rec, body := ts.doJSON(t, http.MethodPost, "/v1/auth/verify-otp", map[string]string{
		"contactInfo": contact,
		"otp":         body.Data["otp"].(string),
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, body.Message)

	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			return cookie.Value
		}
	}

	t.Fatal("no session cookie set")
	return ""
}

func (ts *testServer) signup(t *testing.T, token string, fields map[string]string, files map[string][]byte) string {
	rec, body := ts.doForm(t, "/v1/users/signup", fields, files, token)
	require.Equal(t, http.StatusCreated, rec.Code, body.Message)

	return body.Data["user"].(map[string]interface{})["_id"].(string)
}

func (ts *testServer) volunteer(t *testing.T, contact string, lat, lng string) (string, string) {
	token := ts.verifiedToken(t, contact)
	id := ts.signup(t, token, map[string]string{
		"role":      "volunteer",
		"name":      "Nadia",
		"lat":       lat,
		"lng":       lng,
		"nidNumber": "1990123456789",
	}, map[string][]byte{"nidPhoto": []byte("nid")})

	return token, id
}

func (ts *testServer) admin(t *testing.T) string {
	token := ts.verifiedToken(t, "admin@sheguard.org")
	user, err := ts.store.FindUserBy(context.Background(), "email", "admin@sheguard.org")
	require.NoError(t, err)
	require.NoError(t, ts.store.UpdateUser(context.Background(), user.ID, map[string]interface{}{"role": string(models.RoleAdmin)}))

	return token
}

func TestSignupFlow(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.doJSON(t, http.MethodPost, "/v1/auth/send-otp", map[string]string{"contactInfo": "user@example.com"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, body.Data["userExists"].(bool))
	require.Len(t, ts.dispatcher.messages, 1)
	assert.Equal(t, "user@example.com", ts.dispatcher.messages[0].To)

	rec, body = ts.doJSON(t, http.MethodPost, "/v1/auth/verify-otp", map[string]string{
		"contactInfo": "user@example.com",
		"otp":         body.Data["otp"].(string),
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, body.Data["isRegistrationComplete"].(bool))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, sessionCookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, 7*24*60*60, cookie.MaxAge)
	assert.Equal(t, "/", cookie.Path)

	rec, body = ts.doForm(t, "/v1/users/signup", map[string]string{
		"role":   "victim",
		"name":   "Sarah",
		"gender": "female",
		"lat":    "23.81",
		"lng":    "90.41",
	}, nil, cookie.Value)
	require.Equal(t, http.StatusCreated, rec.Code, body.Message)

	user := body.Data["user"].(map[string]interface{})
	assert.Equal(t, "victim", user["role"])
	assert.Equal(t, "Sarah", user["name"])
	assert.Equal(t, map[string]interface{}{"lat": 23.81, "lng": 90.41}, user["location"])

	_, body = ts.doJSON(t, http.MethodGet, "/v1/auth/me", nil, cookie.Value)
	assert.True(t, body.Success)
	assert.Equal(t, "user@example.com", body.Data["user"].(map[string]interface{})["email"])
}

func TestSessionCookieIsAccepted(t *testing.T) {
	ts := newTestServer(t)
	token := ts.verifiedToken(t, "+8801711111111")

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	rec, body := ts.do(t, req, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "+8801711111111", body.Data["user"].(map[string]interface{})["phone"])
}

func TestErrorCategories(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name     string
		method   string
		path     string
		payload  interface{}
		status   int
		category string
	}{
		{"missing contact", http.MethodPost, "/v1/auth/send-otp", map[string]string{}, http.StatusBadRequest, "validation"},
		{"bad contact", http.MethodPost, "/v1/auth/send-otp", map[string]string{"contactInfo": "nope"}, http.StatusBadRequest, "validation"},
		{"unknown user login", http.MethodPost, "/v1/auth/login", map[string]string{"contactInfo": "ghost@example.com", "password": "password1"}, http.StatusNotFound, "not_found"},
		{"no session", http.MethodGet, "/v1/auth/me", nil, http.StatusUnauthorized, "authentication"},
		{"invalid otp for unknown user", http.MethodPost, "/v1/auth/verify-otp", map[string]string{"contactInfo": "ghost@example.com", "otp": "123456"}, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := ts.doJSON(t, tt.method, tt.path, tt.payload, "")
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, body.Success)
			assert.Equal(t, tt.category, body.Category)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestVerifyOtpWithWrongCode(t *testing.T) {
	ts := newTestServer(t)

	_, body := ts.doJSON(t, http.MethodPost, "/v1/auth/send-otp", map[string]string{"contactInfo": "user@example.com"}, "")
	code := body.Data["otp"].(string)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	rec, body := ts.doJSON(t, http.MethodPost, "/v1/auth/verify-otp", map[string]string{
		"contactInfo": "user@example.com",
		"otp":         wrong,
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_code", body.Category)
	assert.Equal(t, "Invalid OTP", body.Message)
}

func TestPasswordAndLogin(t *testing.T) {
	ts := newTestServer(t)
	token := ts.verifiedToken(t, "user@example.com")

	rec, body := ts.doJSON(t, http.MethodPut, "/v1/auth/password", map[string]string{"password": "short"}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", body.Category)

	rec, _ = ts.doJSON(t, http.MethodPut, "/v1/auth/password", map[string]string{"password": "correct-horse"}, token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = ts.doJSON(t, http.MethodPost, "/v1/auth/login", map[string]string{"contactInfo": "user@example.com", "password": "wrong-horse"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid password", body.Message)

	rec, body = ts.doJSON(t, http.MethodPost, "/v1/auth/login", map[string]string{"contactInfo": "USER@example.com", "password": "correct-horse"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.NotEmpty(t, rec.Result().Cookies())
}

func TestLogoutClearsCookie(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.doJSON(t, http.MethodPost, "/v1/auth/logout", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "", cookies[0].Value)
	assert.True(t, cookies[0].MaxAge < 0)
}

func TestVolunteerSignupRequiresNidPhoto(t *testing.T) {
	ts := newTestServer(t)
	token := ts.verifiedToken(t, "nadia@example.com")

	rec, body := ts.doForm(t, "/v1/users/signup", map[string]string{
		"role":      "volunteer",
		"name":      "Nadia",
		"nidNumber": "1990123456789",
	}, nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", body.Category)

	user, err := ts.store.FindUserBy(context.Background(), "email", "nadia@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUnset, user.Role)
	assert.Empty(t, user.Volunteer.NidNumber)
}

func TestVolunteerRoutes(t *testing.T) {
	ts := newTestServer(t)
	volunteerToken, volunteerID := ts.volunteer(t, "nadia@example.com", "23.7104", "90.4074")

	_, body := ts.doJSON(t, http.MethodGet, "/v1/volunteers/me", nil, volunteerToken)
	require.True(t, body.Success, body.Message)
	volunteer := body.Data["volunteer"].(map[string]interface{})
	assert.Equal(t, volunteerID, volunteer["_id"])
	assert.Equal(t, "offline", volunteer["volunteerDetails"].(map[string]interface{})["status"])

	rec, body := ts.doJSON(t, http.MethodPatch, "/v1/volunteers/status", map[string]string{"status": "sleeping"}, volunteerToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", body.Category)

	_, body = ts.doJSON(t, http.MethodPatch, "/v1/volunteers/status", map[string]string{"status": "online"}, volunteerToken)
	assert.Equal(t, "online", body.Data["status"])

	rec, _ = ts.doJSON(t, http.MethodPatch, "/v1/volunteers/location", map[string]interface{}{"lat": 123.0, "lng": 90.0}, volunteerToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, body = ts.doJSON(t, http.MethodPatch, "/v1/volunteers/location", map[string]interface{}{"lat": 23.7104, "lng": 90.4074}, volunteerToken)
	assert.Equal(t, map[string]interface{}{"lat": 23.7104, "lng": 90.4074}, body.Data["location"])

	// Pending admin verification
	rec, body = ts.doJSON(t, http.MethodGet, "/v1/volunteers/requests", nil, volunteerToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "authorization", body.Category)

	adminToken := ts.admin(t)
	rec, body = ts.doJSON(t, http.MethodPatch, "/v1/admin/volunteers/"+volunteerID+"/verify", map[string]bool{"verified": true}, adminToken)
	require.Equal(t, http.StatusOK, rec.Code, body.Message)

	victimToken := ts.verifiedToken(t, "sarah@example.com")
	ts.signup(t, victimToken, map[string]string{"role": "victim", "name": "Sarah", "lat": "23.7104", "lng": "90.4074"}, nil)

	_, body = ts.doJSON(t, http.MethodGet, "/v1/volunteers/requests?maxDistance=10", nil, volunteerToken)
	require.True(t, body.Success, body.Message)
	assert.EqualValues(t, 1, body.Data["count"])
	request := body.Data["requests"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Sarah", request["name"])
	assert.EqualValues(t, 0, request["distance"])

	_, body = ts.doJSON(t, http.MethodGet, "/v1/victims/volunteers?maxDistance=10&online=true", nil, victimToken)
	require.True(t, body.Success, body.Message)
	assert.EqualValues(t, 1, body.Data["count"])

	// Victims cannot reach volunteer routes
	rec, _ = ts.doJSON(t, http.MethodGet, "/v1/volunteers/requests", nil, victimToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = ts.doJSON(t, http.MethodGet, "/v1/victims/volunteers?maxDistance=-1", nil, victimToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", body.Category)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	ts := newTestServer(t)
	volunteerToken, volunteerID := ts.volunteer(t, "nadia@example.com", "23.7104", "90.4074")

	rec, body := ts.doJSON(t, http.MethodPatch, "/v1/admin/volunteers/"+volunteerID+"/verify", map[string]bool{"verified": true}, volunteerToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "authorization", body.Category)

	rec, _ = ts.doJSON(t, http.MethodGet, "/v1/admin/jobs", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSelfOnboardedAdminIsRejected(t *testing.T) {
	ts := newTestServer(t)
	_, volunteerID := ts.volunteer(t, "nadia@example.com", "23.7104", "90.4074")

	rogueToken := ts.verifiedToken(t, "rogue@example.com")
	rec, body := ts.doForm(t, "/v1/users/signup", map[string]string{"role": "admin", "name": "Rogue"}, nil, rogueToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "authorization", body.Category)

	user, err := ts.store.FindUserBy(context.Background(), "email", "rogue@example.com")
	require.NoError(t, err)
	require.NoError(t, ts.store.UpdateUser(context.Background(), user.ID, map[string]interface{}{"role": string(models.RoleAdmin)}))

	rec, _ = ts.doJSON(t, http.MethodPatch, "/v1/admin/volunteers/"+volunteerID+"/verify", map[string]bool{"verified": true}, rogueToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	volunteer, err := ts.store.FindUserBy(context.Background(), "id", volunteerID)
	require.NoError(t, err)
	assert.False(t, volunteer.Volunteer.VerifiedByAdmin)
}

func TestMaxDistanceIsBounded(t *testing.T) {
	ts := newTestServer(t)
	victimToken := ts.verifiedToken(t, "sarah@example.com")
	ts.signup(t, victimToken, map[string]string{"role": "victim", "name": "Sarah", "lat": "-88.911", "lng": "10.01"}, nil)

	for _, maxDistance := range []string{"30000", "NaN", "Inf"} {
		rec, body := ts.doJSON(t, http.MethodGet, "/v1/victims/volunteers?maxDistance="+maxDistance, nil, victimToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code, maxDistance)
		assert.Equal(t, "validation", body.Category)
	}

	// Almost on the far side of the globe
	_, volunteerID := ts.volunteer(t, "nadia@example.com", "88.9", "-169.99")

	_, body := ts.doJSON(t, http.MethodGet, "/v1/victims/volunteers?maxDistance=20015", nil, victimToken)
	require.True(t, body.Success, body.Message)
	require.EqualValues(t, 1, body.Data["count"])
	found := body.Data["volunteers"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, volunteerID, found["_id"])
}

func TestUnencodableResponseIsInternalError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeResponse(rec, ResponsePayload{Success: true, Data: map[string]interface{}{"distance": math.NaN()}}, http.StatusOK)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	body := response{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "internal", body.Category)
}

func TestFetchJobs(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.admin(t)
	require.NoError(t, ts.store.CreateJob("send_otp-email", SEND_OTP_JOB, `{"to":"a@b.c"}`, false))

	_, body := ts.doJSON(t, http.MethodGet, "/v1/admin/jobs?status=enqueued", nil, adminToken)
	require.True(t, body.Success, body.Message)
	assert.Len(t, body.Data["jobs"].([]interface{}), 1)

	rec, body := ts.doJSON(t, http.MethodGet, "/v1/admin/jobs?status=paused", nil, adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid job status", body.Message)
}

func TestJwks(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/jwks", nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	jwks := map[string][]map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jwks))
	require.Len(t, jwks["keys"], 1)
	assert.Equal(t, key.DefaultKid, jwks["keys"][0]["kid"])
	assert.Equal(t, "RS256", jwks["keys"][0]["alg"])
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.doJSON(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body.Data["status"])
	assert.Contains(t, body.Data, "jobs")
}
