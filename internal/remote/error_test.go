package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
)

func httpError(status int) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
		Err:      errors.New("http failure"),
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"access denied", &smithy.GenericAPIError{Code: "AccessDeniedException"}, AuthFailure},
		{"unauthorized ec2", &smithy.GenericAPIError{Code: "UnauthorizedOperation"}, AuthFailure},
		{"throttling", &smithy.GenericAPIError{Code: "Throttling"}, Throttled},
		{"request limit", &smithy.GenericAPIError{Code: "RequestLimitExceeded"}, Throttled},
		{"invalid action", &smithy.GenericAPIError{Code: "InvalidAction"}, Unsupported},
		{"unknown code", &smithy.GenericAPIError{Code: "InternalError"}, Transient},
		{"wrapped code", fmt.Errorf("operation error: %w", &smithy.GenericAPIError{Code: "ExpiredToken"}), AuthFailure},
		{"http 403", httpError(http.StatusForbidden), AuthFailure},
		{"http 429", httpError(http.StatusTooManyRequests), Throttled},
		{"http 501", httpError(http.StatusNotImplemented), Unsupported},
		{"http 500", httpError(http.StatusInternalServerError), Transient},
		{"timeout", context.DeadlineExceeded, Transient},
		{"plain", errors.New("connection reset"), Transient},
		{"already classified", &Error{Kind: Unsupported}, Unsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestError_Format(t *testing.T) {
	err := &Error{
		Kind:      Throttled,
		Service:   "ec2",
		Region:    "eu-west-1",
		Operation: "DescribeVpcs",
		Err:       errors.New("rate exceeded"),
	}
	assert.Equal(t, "ec2/DescribeVpcs in eu-west-1: throttled: rate exceeded", err.Error())
	assert.ErrorContains(t, err, "rate exceeded")

	var target *Error
	assert.True(t, errors.As(fmt.Errorf("task: %w", err), &target))
	assert.Equal(t, Throttled, target.Kind)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "auth_failure", AuthFailure.String())
	assert.Equal(t, "throttled", Throttled.String())
	assert.Equal(t, "unsupported", Unsupported.String())
	assert.Equal(t, "transient", Transient.String())
}

func TestParams_Defaults(t *testing.T) {
	p := Params(Call{Service: "ssm", Operation: "GetParametersByPath"})
	assert.Equal(t, "/", p["Path"])

	p = Params(Call{Service: "ssm", Operation: "GetParametersByPath", Params: map[string]any{"Path": "/app", "Recursive": true}})
	assert.Equal(t, "/app", p["Path"])
	assert.Equal(t, true, p["Recursive"])

	assert.Nil(t, Params(Call{Service: "ec2", Operation: "DescribeVpcs"}))
}
