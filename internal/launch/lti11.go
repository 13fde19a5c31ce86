package launch

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/tendant/lti-provider/internal/crypto"
	ltierrors "github.com/tendant/lti-provider/internal/errors"
)

// LTIVersion10 is the lti_version every LTI 1.1 launch carries.
const LTIVersion10 = "LTI-1p0"

var lti11MessageTypes = map[string]bool{
	MessageBasicLaunch:  true,
	MessageResourceLink: true,
	MessageContentItem:  true,
	MessageDeepLinking:  true,
}

// validateLTI11 checks the form shape before anything touches the store.
func validateLTI11(form url.Values) error {
	fields := map[string][]string{}
	for _, name := range []string{
		crypto.OAuthConsumerKey,
		crypto.OAuthNonce,
		crypto.OAuthTimestamp,
		crypto.OAuthSignatureMethod,
		crypto.OAuthVersion,
		crypto.OAuthSignature,
		"lti_message_type",
		"lti_version",
		"user_id",
		"roles",
		"tool_consumer_instance_guid",
	} {
		if form.Get(name) == "" {
			fields[name] = append(fields[name], "Missing data for required field.")
		}
	}

	if m := form.Get("lti_message_type"); m != "" && !lti11MessageTypes[m] {
		fields["lti_message_type"] = append(fields["lti_message_type"], "Unsupported message type "+strconv.Quote(m)+".")
	}
	if v := form.Get("lti_version"); v != "" && v != LTIVersion10 {
		fields["lti_version"] = append(fields["lti_version"], "Must be "+LTIVersion10+".")
	}
	if m := form.Get(crypto.OAuthSignatureMethod); m != "" && m != crypto.SignatureMethodHMACSHA1 {
		fields[crypto.OAuthSignatureMethod] = append(fields[crypto.OAuthSignatureMethod], "Must be "+crypto.SignatureMethodHMACSHA1+".")
	}
	if v := form.Get(crypto.OAuthVersion); v != "" && v != crypto.OAuthVersion10 {
		fields[crypto.OAuthVersion] = append(fields[crypto.OAuthVersion], "Must be "+crypto.OAuthVersion10+".")
	}
	if form.Get("resource_link_id") == "" && form.Get("content_item_return_url") == "" {
		fields["resource_link_id"] = append(fields["resource_link_id"],
			"One of resource_link_id or content_item_return_url is required.")
	}

	if len(fields) > 0 {
		return ltierrors.Validation(fields)
	}
	return nil
}

// LaunchLTI11 verifies an OAuth1-signed LTI 1.1 launch. rawURL is the launch URL exactly
// as the consumer signed it.
func (a *Authenticator) LaunchLTI11(ctx context.Context, method, rawURL string, form url.Values) (*Result, error) {
	if err := validateLTI11(form); err != nil {
		return nil, a.fail(VersionLTI11, err)
	}

	consumerKey := form.Get(crypto.OAuthConsumerKey)
	tenant, err := a.tenants.GetByConsumerKey(ctx, consumerKey)
	if err != nil {
		return nil, a.fail(VersionLTI11, unknownTenant(err, "unknown oauth_consumer_key"))
	}

	if err := a.oauth1.Verify(method, rawURL, form, tenant.SharedSecret); err != nil {
		return nil, a.fail(VersionLTI11, err)
	}

	fresh, err := a.replay.Use(ctx, "lti11", consumerKey+"|"+form.Get(crypto.OAuthNonce), a.nonceTTL)
	if err != nil {
		return nil, a.fail(VersionLTI11, ltierrors.Internal("nonce check failed", err))
	}
	if !fresh {
		return nil, a.fail(VersionLTI11, ltierrors.New(ltierrors.CodeReplayedNonce, "oauth_nonce already used"))
	}

	if err := a.checkTimestamp(form.Get(crypto.OAuthTimestamp)); err != nil {
		return nil, a.fail(VersionLTI11, err)
	}

	return a.finish(ctx, VersionLTI11, tenant, nil, paramsFromForm(form))
}

func (a *Authenticator) checkTimestamp(raw string) error {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ltierrors.Validation(map[string][]string{crypto.OAuthTimestamp: {"Not a valid integer."}})
	}
	skew := a.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.timestampWindow {
		return ltierrors.New(ltierrors.CodeStaleTimestamp, "oauth_timestamp outside the accepted window")
	}
	return nil
}
