package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	ltierrors "github.com/tendant/lti-provider/internal/errors"
)

// OAuth1 parameter names and values.
const (
	OAuthConsumerKey     = "oauth_consumer_key"
	OAuthNonce           = "oauth_nonce"
	OAuthTimestamp       = "oauth_timestamp"
	OAuthSignatureMethod = "oauth_signature_method"
	OAuthVersion         = "oauth_version"
	OAuthSignature       = "oauth_signature"
	OAuthCallback        = "oauth_callback"

	SignatureMethodHMACSHA1 = "HMAC-SHA1"
	OAuthVersion10          = "1.0"
)

// OAuth1Signer signs and verifies form bodies with OAuth 1.0 HMAC-SHA1, signature type "body".
type OAuth1Signer struct {
	now   func() time.Time
	nonce func() string
}

// NewOAuth1Signer creates a signer using the wall clock and random nonces.
func NewOAuth1Signer() *OAuth1Signer {
	return &OAuth1Signer{
		now:   time.Now,
		nonce: func() string { return strings.ReplaceAll(uuid.New().String(), "-", "") },
	}
}

// Sign returns a copy of form with the OAuth1 protocol parameters and signature added.
func (s *OAuth1Signer) Sign(method, rawURL string, form url.Values, consumerKey, secret string) (url.Values, error) {
	signed := url.Values{}
	for k, v := range form {
		signed[k] = append([]string(nil), v...)
	}
	signed.Del(OAuthSignature)
	signed.Set(OAuthConsumerKey, consumerKey)
	signed.Set(OAuthNonce, s.nonce())
	signed.Set(OAuthTimestamp, strconv.FormatInt(s.now().Unix(), 10))
	signed.Set(OAuthSignatureMethod, SignatureMethodHMACSHA1)
	signed.Set(OAuthVersion, OAuthVersion10)

	sig, err := HMACSHA1Signature(method, rawURL, signed, secret)
	if err != nil {
		return nil, err
	}
	signed.Set(OAuthSignature, sig)
	return signed, nil
}

// Verify recomputes the signature of a signed form and compares it in constant time.
func (s *OAuth1Signer) Verify(method, rawURL string, form url.Values, secret string) error {
	if m := form.Get(OAuthSignatureMethod); m != SignatureMethodHMACSHA1 {
		return ltierrors.New(ltierrors.CodeBadSignature, fmt.Sprintf("unsupported signature method %q", m))
	}
	got := form.Get(OAuthSignature)
	if got == "" {
		return ltierrors.New(ltierrors.CodeBadSignature, "missing oauth_signature")
	}

	want, err := HMACSHA1Signature(method, rawURL, form, secret)
	if err != nil {
		return ltierrors.Wrap(err, ltierrors.CodeBadSignature, "cannot compute signature")
	}
	if !hmac.Equal([]byte(got), []byte(want)) {
		return ltierrors.New(ltierrors.CodeBadSignature, "OAuth1 signature mismatch")
	}
	return nil
}

// HMACSHA1Signature computes the base64 oauth_signature for params with an empty token secret.
func HMACSHA1Signature(method, rawURL string, params url.Values, consumerSecret string) (string, error) {
	base, err := SignatureBaseString(method, rawURL, params)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha1.New, []byte(percentEncode(consumerSecret)+"&"))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// SignatureBaseString builds the RFC 5849 section 3.4.1 base string. Query parameters of
// rawURL are merged with params; oauth_signature is excluded.
func SignatureBaseString(method, rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URL must be absolute: %q", rawURL)
	}

	type pair struct{ k, v string }
	var pairs []pair
	add := func(vals url.Values) {
		for k, vs := range vals {
			if k == OAuthSignature {
				continue
			}
			for _, v := range vs {
				pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
			}
		}
	}
	add(u.Query())
	add(params)

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	normalized := make([]string, len(pairs))
	for i, p := range pairs {
		normalized[i] = p.k + "=" + p.v
	}

	return strings.ToUpper(method) + "&" +
		percentEncode(baseURI(u)) + "&" +
		percentEncode(strings.Join(normalized, "&")), nil
}

// baseURI lower-cases scheme and host and drops default ports, query and fragment.
func baseURI(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]" // IPv6 literal
	}
	port := u.Port()
	if port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

// percentEncode escapes everything outside the RFC 3986 unreserved set.
func percentEncode(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}
	return b.String()
}
