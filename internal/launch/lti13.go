package launch

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tendant/lti-provider/internal/crypto"
	"github.com/tendant/lti-provider/internal/domain"
	ltierrors "github.com/tendant/lti-provider/internal/errors"
)

// LTIVersion13 is the version claim every LTI 1.3 launch carries.
const LTIVersion13 = "1.3.0"

// LaunchLTI13 verifies an id_token posted by a platform. state is the value returned by Login;
// when non-empty the token's nonce must be the one Login issued.
func (a *Authenticator) LaunchLTI13(ctx context.Context, idToken, state string) (*Result, error) {
	if a.platforms == nil {
		return nil, a.fail(VersionLTI13, ltierrors.New(ltierrors.CodeUnknownTenant, "LTI 1.3 is not enabled"))
	}

	unverified, err := peekClaims(idToken)
	if err != nil {
		return nil, a.fail(VersionLTI13, err)
	}

	issuer, _ := unverified["iss"].(string)
	clientID := audience(unverified)
	if issuer == "" || clientID == "" {
		return nil, a.fail(VersionLTI13, missingClaims("iss", "aud"))
	}
	reg, err := a.registrations.GetByIssuerClient(ctx, issuer, clientID)
	if err != nil {
		return nil, a.fail(VersionLTI13, unknownTenant(err, "no registration for issuer and client_id"))
	}

	deploymentID, _ := unverified[ClaimDeploymentID].(string)
	if deploymentID == "" {
		return nil, a.fail(VersionLTI13, missingClaims(ClaimDeploymentID))
	}
	tenant, err := a.tenants.GetByDeployment(ctx, reg.ID, deploymentID)
	if err != nil {
		return nil, a.fail(VersionLTI13, unknownTenant(err, "no tenant for deployment_id"))
	}

	exp := crypto.Expectation{Issuer: reg.Issuer, Audience: reg.ClientID, Leeway: a.leeway}
	if state != "" {
		login, err := a.verifyLoginState(state)
		if err != nil {
			return nil, a.fail(VersionLTI13, err)
		}
		if login.Issuer != reg.Issuer {
			return nil, a.fail(VersionLTI13, ltierrors.New(ltierrors.CodeInvalidStateParam, "login state was issued for another platform"))
		}
		exp.Nonce = login.Nonce
	}

	claims, err := a.platforms.Verify(ctx, idToken, reg.KeySetURL, exp)
	if err != nil {
		return nil, a.fail(VersionLTI13, err)
	}
	if err := requireClaims(claims); err != nil {
		return nil, a.fail(VersionLTI13, err)
	}

	nonce, _ := claims["nonce"].(string)
	fresh, err := a.replay.Use(ctx, "lti13", reg.Issuer+"|"+nonce, a.idTokenNonceTTL)
	if err != nil {
		return nil, a.fail(VersionLTI13, ltierrors.Internal("nonce check failed", err))
	}
	if !fresh {
		return nil, a.fail(VersionLTI13, ltierrors.New(ltierrors.CodeReplayedNonce, "id_token nonce already used"))
	}

	return a.finish(ctx, VersionLTI13, tenant, reg, paramsFromClaims(claims))
}

// peekClaims reads the claims of a token without verifying it, to find its registration.
func peekClaims(idToken string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, _, err := jwt.NewParser().ParseUnverified(idToken, claims)
	if err != nil {
		return nil, ltierrors.Wrap(err, ltierrors.CodeMalformedToken, "id_token is not a JWT")
	}
	if kid, _ := token.Header["kid"].(string); kid == "" {
		return nil, ltierrors.New(ltierrors.CodeUnknownKid, "id_token has no kid header")
	}
	return claims, nil
}

// requireClaims checks the claims every launch must carry for its message type.
func requireClaims(claims jwt.MapClaims) error {
	var missing []string
	for _, name := range []string{"sub", "nonce", ClaimMessageType, ClaimVersion, ClaimRoles} {
		if _, ok := claims[name]; !ok {
			missing = append(missing, name)
		}
	}

	messageType, _ := claims[ClaimMessageType].(string)
	switch messageType {
	case MessageResourceLink:
		if id, _ := lookup(claims, ClaimResourceLink, "id"); stringify(id) == "" {
			missing = append(missing, ClaimResourceLink+".id")
		}
	case MessageDeepLinking:
		if _, ok := claims[ClaimDeepLinkingSettings].(map[string]any); !ok {
			missing = append(missing, ClaimDeepLinkingSettings)
		}
	}
	if len(missing) > 0 {
		return missingClaims(missing...)
	}

	fields := map[string][]string{}
	if messageType != MessageResourceLink && messageType != MessageDeepLinking {
		fields[ClaimMessageType] = []string{fmt.Sprintf("Unsupported message type %q.", messageType)}
	}
	if v, _ := claims[ClaimVersion].(string); v != LTIVersion13 {
		fields[ClaimVersion] = []string{"Must be " + LTIVersion13 + "."}
	}
	if len(fields) > 0 {
		return ltierrors.Validation(fields)
	}
	return nil
}

func missingClaims(names ...string) error {
	fields := make(map[string][]string, len(names))
	for _, n := range names {
		fields[n] = []string{"Missing claim."}
	}
	err := ltierrors.New(ltierrors.CodeMissingClaim, fmt.Sprintf("id_token lacks %v", names))
	err.Fields = fields
	return err
}

// registrationFor finds the registration a login request refers to. Platforms that omit
// client_id must have exactly one registration for their issuer.
func (a *Authenticator) registrationFor(ctx context.Context, issuer, clientID string) (*domain.Registration, error) {
	if clientID != "" {
		reg, err := a.registrations.GetByIssuerClient(ctx, issuer, clientID)
		if err != nil {
			return nil, unknownTenant(err, "no registration for issuer and client_id")
		}
		return reg, nil
	}

	all, err := a.registrations.List(ctx)
	if err != nil {
		return nil, ltierrors.Internal("cannot list registrations", err)
	}
	var match *domain.Registration
	for _, reg := range all {
		if reg.Issuer != issuer {
			continue
		}
		if match != nil {
			return nil, ltierrors.Validation(map[string][]string{"client_id": {"Required when the issuer has several registrations."}})
		}
		match = reg
	}
	if match == nil {
		return nil, ltierrors.New(ltierrors.CodeUnknownTenant, "no registration for issuer")
	}
	return match, nil
}
