package accounts

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/EduOpsSolutions/EduOps-sub002/pkg/config"
)

// Profile describes the person an account is provisioned for.
type Profile struct {
	EnrollmentID string `json:"enrollment_id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
}

// Client provisions user accounts on the external account service. The
// service stores only the hash of the generated temporary password; the
// plaintext is delivered to the student out of band by the account service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient constructs an account service client from config.
func NewClient(cfg config.AccountsConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.CallTimeout},
		logger:  logger,
	}
}

type createAccountRequest struct {
	Profile
	TempPasswordHash string `json:"temp_password_hash"`
}

type createAccountResponse struct {
	AccountID string `json:"account_id"`
}

// CreateAccount provisions a user record and returns its identifier.
func (c *Client) CreateAccount(ctx context.Context, profile Profile) (string, error) {
	hash, err := tempPasswordHash()
	if err != nil {
		return "", fmt.Errorf("generate temp credential: %w", err)
	}

	payload, err := json.Marshal(createAccountRequest{Profile: profile, TempPasswordHash: hash})
	if err != nil {
		return "", fmt.Errorf("encode account request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/accounts", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build account request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("account service request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read account response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		c.logger.Warn("account provisioning failed",
			zap.String("enrollment_id", profile.EnrollmentID),
			zap.Int("status", resp.StatusCode),
		)
		return "", fmt.Errorf("account service returned status %d", resp.StatusCode)
	}

	var decoded createAccountResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode account response: %w", err)
	}
	if decoded.AccountID == "" {
		return "", fmt.Errorf("account service returned empty account id")
	}
	return decoded.AccountID, nil
}

func tempPasswordHash() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(base64.RawURLEncoding.EncodeToString(buf)), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
