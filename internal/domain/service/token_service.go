package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
)

// DefaultTokenTTL is the lifetime of a minted relay token
const DefaultTokenTTL = time.Hour

// TokenService mints shared access signature tokens for the relay handshake
type TokenService interface {
	// Token returns a token authorizing access to resource for ttl
	Token(resource string, ttl time.Duration) (string, error)
}

// sasTokenService is an implementation of TokenService
type sasTokenService struct {
	keyName string
	key     string
	now     func() time.Time
}

// NewTokenService creates a new TokenService for a shared access policy
func NewTokenService(keyName, key string) TokenService {
	return &sasTokenService{
		keyName: keyName,
		key:     key,
		now:     time.Now,
	}
}

// Token signs "<url-encoded resource>\n<expiry>" with HMAC-SHA256 over the shared key
func (s *sasTokenService) Token(resource string, ttl time.Duration) (string, error) {
	if s.keyName == "" || s.key == "" {
		return "", errors.Wrap(model.ErrConfiguration, "key name and shared key are required to sign a token")
	}
	if resource == "" {
		return "", errors.New("resource cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	encoded := url.QueryEscape(strings.ToLower(resource))
	expiry := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)

	mac := hmac.New(sha256.New, []byte(s.key))
	if _, err := mac.Write([]byte(encoded + "\n" + expiry)); err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s&skn=%s",
		encoded, url.QueryEscape(signature), expiry, s.keyName), nil
}

// ResourceURI returns the resource a listener token is minted for
func ResourceURI(cs model.ConnectionString) string {
	return fmt.Sprintf("http://%s/%s", cs.Endpoint, strings.TrimPrefix(cs.EntityPath, "/"))
}
