package oauth2client

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	withAuthenticate := http.Header{"Www-Authenticate": {`Bearer realm="canvas-lms"`}}

	tests := []struct {
		name   string
		vendor *Vendor
		status int
		header http.Header
		body   string
		want   Outcome
	}{
		{"canvas 401 with WWW-Authenticate", Canvas, 401, withAuthenticate, `{}`, OutcomeToken},
		{"canvas invalid access token", Canvas, 401, nil, `{"errors":[{"message":"Invalid access token."}]}`, OutcomeToken},
		{"canvas insufficient scopes", Canvas, 401, nil, `{"errors":[{"message":"Insufficient scopes on access token."}]}`, OutcomeToken},
		{"canvas not authorized", Canvas, 401, nil, `{"status":"unauthorized","errors":[{"message":"user not authorized to perform that action"}]}`, OutcomePermission},
		{"canvas invalid_token 400", Canvas, 400, nil, `{"error":"invalid_token"}`, OutcomeToken},
		{"canvas refresh token not found", Canvas, 400, nil, `{"error_description":"refresh_token not found"}`, OutcomeToken},
		{"canvas other 400", Canvas, 400, nil, `{"error":"bad"}`, OutcomeDefault},
		{"canvas 404", Canvas, 404, nil, `{}`, OutcomeDefault},
		{"canvas ok", Canvas, 200, nil, `[]`, OutcomeDefault},
		{"blackboard 401", Blackboard, 401, nil, `{}`, OutcomeToken},
		{"blackboard 403", Blackboard, 403, nil, `{}`, OutcomePermission},
		{"d2l 401", D2L, 401, nil, ``, OutcomeToken},
		{"d2l invalid_request", D2L, 400, nil, `{"error":"invalid_request"}`, OutcomeToken},
		{"moodle invalid token", Moodle, 200, nil, `{"exception":"moodle_exception","errorcode":"invalidtoken"}`, OutcomeToken},
		{"moodle access exception", Moodle, 200, nil, `{"exception":"webservice_access_exception","errorcode":"accessexception"}`, OutcomePermission},
		{"moodle ok", Moodle, 200, nil, `[{"id":1}]`, OutcomeDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.vendor.Classify(tt.status, tt.header, []byte(tt.body)))
		})
	}
}

func TestVendorCheck(t *testing.T) {
	assert.ErrorIs(t, Blackboard.Check(401, nil, nil), ErrTokenRejected)
	assert.ErrorIs(t, Blackboard.Check(403, nil, nil), ErrPermissionDenied)
	assert.NoError(t, Blackboard.Check(200, nil, nil))
	assert.NoError(t, (&Vendor{}).Check(401, nil, nil))
}

func TestVendorEndpoints(t *testing.T) {
	assert.True(t, Canvas.UsesOAuth2())
	assert.False(t, Moodle.UsesOAuth2())
}
