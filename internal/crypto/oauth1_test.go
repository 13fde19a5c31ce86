package crypto

import (
	"net/url"
	"testing"
	"time"

	ltierrors "github.com/tendant/lti-provider/internal/errors"
)

func TestSignatureBaseStringRFC5849Example(t *testing.T) {
	params := url.Values{
		"c2":                     {""},
		"a3":                     {"2 q"},
		"oauth_consumer_key":     {"9djdj82h48djs9d2"},
		"oauth_token":            {"kkk9d7dh3k39sjv7"},
		"oauth_signature_method": {"HMAC-SHA1"},
		"oauth_timestamp":        {"137131201"},
		"oauth_nonce":            {"7d8f3e4a"},
		"oauth_signature":        {"ignored"},
	}

	got, err := SignatureBaseString("post", "http://EXAMPLE.com:80/request?b5=%3D%253D&a3=a&c%40=&a2=r%20b", params)
	if err != nil {
		t.Fatalf("SignatureBaseString failed: %v", err)
	}

	want := "POST&http%3A%2F%2Fexample.com%2Frequest&a2%3Dr%2520b%26a3%3D2%2520q%26a3%3Da%26b5%3D%253D%25253D%26c%2540%3D%26c2%3D%26oauth_consumer_key%3D9djdj82h48djs9d2%26oauth_nonce%3D7d8f3e4a%26oauth_signature_method%3DHMAC-SHA1%26oauth_timestamp%3D137131201%26oauth_token%3Dkkk9d7dh3k39sjv7"
	if got != want {
		t.Errorf("base string mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestBaseURI(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"HTTPS://Tool.Example.com:443/lti_launches?x=1", "https://tool.example.com/lti_launches"},
		{"http://tool.example.com:8080", "http://tool.example.com:8080/"},
		{"https://[::1]:8080/lti_launches", "https://[::1]:8080/lti_launches"},
		{"https://[2001:DB8::1]:443/lti_launches", "https://[2001:db8::1]/lti_launches"},
		{"http://[::1]/lti_launches", "http://[::1]/lti_launches"},
	}

	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		if err != nil {
			t.Fatalf("Parse %s failed: %v", tt.raw, err)
		}
		if got := baseURI(u); got != tt.want {
			t.Errorf("baseURI(%s) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestOAuth1SignVerifyRoundTrip(t *testing.T) {
	signer := NewOAuth1Signer()

	tests := []struct {
		name   string
		method string
		url    string
		body   url.Values
		key    string
		secret string
	}{
		{"launch", "POST", "https://tool.example.com/lti_launches", url.Values{"user_id": {"U"}, "roles": {"Instructor"}}, "k", "s"},
		{"query and unicode", "POST", "https://tool.example.com:8443/launch?x=1", url.Values{"name": {"Zoë Ödegaard"}}, "key with space", "s&cret"},
		{"empty body", "GET", "http://lms.example.com/api", url.Values{}, "k2", ""},
		{"repeated values", "POST", "https://tool.example.com/", url.Values{"a": {"2", "1"}}, "k3", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signed, err := signer.Sign(tt.method, tt.url, tt.body, tt.key, tt.secret)
			if err != nil {
				t.Fatalf("Sign failed: %v", err)
			}
			for _, p := range []string{OAuthConsumerKey, OAuthNonce, OAuthTimestamp, OAuthSignatureMethod, OAuthVersion, OAuthSignature} {
				if signed.Get(p) == "" {
					t.Errorf("signed form missing %s", p)
				}
			}
			if signed.Get(OAuthConsumerKey) != tt.key {
				t.Errorf("oauth_consumer_key = %q, want %q", signed.Get(OAuthConsumerKey), tt.key)
			}

			if err := signer.Verify(tt.method, tt.url, signed, tt.secret); err != nil {
				t.Errorf("Verify with same secret failed: %v", err)
			}
			err = signer.Verify(tt.method, tt.url, signed, tt.secret+"x")
			if !ltierrors.IsCode(err, ltierrors.CodeBadSignature) {
				t.Errorf("Verify with other secret: expected bad_signature, got %v", err)
			}
		})
	}
}

func TestOAuth1VerifyDetectsTampering(t *testing.T) {
	signer := NewOAuth1Signer()
	signed, err := signer.Sign("POST", "https://tool.example.com/lti_launches", url.Values{"roles": {"Learner"}}, "k", "s")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	signed.Set("roles", "Instructor")
	if err := signer.Verify("POST", "https://tool.example.com/lti_launches", signed, "s"); err == nil {
		t.Error("Expected tampered body to fail verification")
	}
}

func TestOAuth1SignDoesNotMutateInput(t *testing.T) {
	signer := NewOAuth1Signer()
	body := url.Values{"a": {"1"}}

	if _, err := signer.Sign("POST", "https://tool.example.com/", body, "k", "s"); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if len(body) != 1 {
		t.Errorf("Sign should not modify its input, got %v", body)
	}
}

func TestOAuth1DeterministicWithFixedClock(t *testing.T) {
	signer := NewOAuth1Signer()
	signer.now = func() time.Time { return time.Unix(1700000000, 0) }
	signer.nonce = func() string { return "fixed" }

	a, _ := signer.Sign("POST", "https://tool.example.com/", url.Values{"x": {"1"}}, "k", "s")
	b, _ := signer.Sign("POST", "https://tool.example.com/", url.Values{"x": {"1"}}, "k", "s")
	if a.Get(OAuthSignature) != b.Get(OAuthSignature) {
		t.Error("Signatures should match for identical inputs")
	}
	if a.Get(OAuthTimestamp) != "1700000000" {
		t.Errorf("Unexpected timestamp %s", a.Get(OAuthTimestamp))
	}
}

func TestOAuth1VerifyRejectsOtherMethods(t *testing.T) {
	signer := NewOAuth1Signer()
	form := url.Values{OAuthSignatureMethod: {"PLAINTEXT"}, OAuthSignature: {"s&"}}
	if err := signer.Verify("POST", "https://tool.example.com/", form, "s"); err == nil {
		t.Error("Expected PLAINTEXT signatures to be rejected")
	}
}
