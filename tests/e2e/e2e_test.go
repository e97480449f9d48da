//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	baseURL = getEnv("SECUREDOCS_API_URL", "http://127.0.0.1:8080")
	apiBase = baseURL + "/api/v1"

	adminEmail    = getEnv("SD_BOOTSTRAP_ADMIN_EMAIL", "admin@example.com")
	adminPassword = getEnv("SD_BOOTSTRAP_ADMIN_PASSWORD", "bootstrap-admin-pw")
)

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

type TestClient struct {
	httpClient  *http.Client
	accessToken string
}

func NewTestClient() *TestClient {
	return &TestClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *TestClient) Do(method, path string, body any, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, _ := http.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.httpClient.Do(req)
}

// Login authenticates and stores the access token for later calls.
func (c *TestClient) Login(t *testing.T, email, password string) {
	t.Helper()

	resp, err := c.Do(http.MethodPost, apiBase+"/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "login failed for %s", email)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	c.accessToken = body["access_token"].(string)
	require.NotEmpty(t, c.accessToken)
}

// Upload posts a multipart document and returns its ID.
func (c *TestClient) Upload(t *testing.T, filename, title, classification string) string {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte("e2e payload for " + title))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("title", title))
	require.NoError(t, mw.WriteField("classification", classification))
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest(http.MethodPost, apiBase+"/documents/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode, "upload failed for %s", title)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["document_id"].(string)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// TestE2E_FullDocumentFlow exercises the deployed stack end to end:
// admin provisions a user, the user logs in, uploads a document,
// lists it, downloads it, and finally deletes it through the step-up
// flow after enrolling a second factor.
func TestE2E_FullDocumentFlow(t *testing.T) {
	admin := NewTestClient()
	admin.Login(t, adminEmail, adminPassword)

	// Provision a fresh user.
	userEmail := fmt.Sprintf("e2e-user-%d@example.com", time.Now().UnixNano())
	resp, err := admin.Do(http.MethodPost, apiBase+"/users/", map[string]string{
		"email":     userEmail,
		"full_name": "E2E User",
		"password":  "e2e-user-password1",
		"role":      "standard",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	user := NewTestClient()
	user.Login(t, userEmail, "e2e-user-password1")

	// Upload and list.
	docID := user.Upload(t, "e2e-note.txt", "E2E Note", "public")

	resp, err = user.Do(http.MethodGet, apiBase+"/documents/", nil, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listing := decodeBody(t, resp)
	found := false
	for _, raw := range listing["documents"].([]any) {
		if raw.(map[string]any)["document_id"] == docID {
			found = true
		}
	}
	assert.True(t, found, "uploaded document should appear in the listing")

	// Download.
	resp, err = user.Do(http.MethodGet, apiBase+"/documents/"+docID+"/download", nil, nil)
	require.NoError(t, err)
	payload, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(payload), "e2e payload")

	// Deletion is step-up protected: expect the challenge first.
	resp, err = user.Do(http.MethodDelete, apiBase+"/documents/"+docID+"/", nil, nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusPreconditionRequired, resp.StatusCode,
		"delete without a second factor should be challenged")

	// Enroll.
	resp, err = user.Do(http.MethodPost, apiBase+"/otp/setup", nil, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	secret := decodeBody(t, resp)["secret"].(string)
	require.NotEmpty(t, secret)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	resp, err = user.Do(http.MethodPost, apiBase+"/otp/activate", map[string]string{"code": code}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Delete with a fresh code.
	code, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	resp, err = user.Do(http.MethodDelete, apiBase+"/documents/"+docID+"/", nil,
		map[string]string{"X-OTP-Code": code})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "delete with a valid code should succeed")

	// The document is now gone, not missing.
	resp, err = user.Do(http.MethodGet, apiBase+"/documents/"+docID+"/", nil, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

// TestE2E_AdminGate verifies that a standard user cannot reach user
// administration endpoints on the deployed stack.
func TestE2E_AdminGate(t *testing.T) {
	admin := NewTestClient()
	admin.Login(t, adminEmail, adminPassword)

	userEmail := fmt.Sprintf("e2e-gate-%d@example.com", time.Now().UnixNano())
	resp, err := admin.Do(http.MethodPost, apiBase+"/users/", map[string]string{
		"email":     userEmail,
		"full_name": "Gate User",
		"password":  "e2e-user-password1",
		"role":      "standard",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	user := NewTestClient()
	user.Login(t, userEmail, "e2e-user-password1")

	resp, err = user.Do(http.MethodGet, apiBase+"/users/", nil, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode,
		"standard user must not list users")
}
