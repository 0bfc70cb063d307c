// internal/signing/provider_test.go
package signing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "loanflow/internal/common/errors"
	"loanflow/internal/smartfields"
)

func TestHTTPProvider_Submit_Success(t *testing.T) {
	var gotAuth string
	var gotReq submitRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(submitResponse{DocumentID: "prov-doc-1"})
	}))
	t.Cleanup(server.Close)

	provider := NewHTTPProvider(server.URL, "api-key-1", 5*time.Second)
	result, err := provider.Submit(context.Background(), "tmpl-loan-v3", smartfields.FieldMap{
		"contact_first_name": "Ada",
	})
	require.NoError(t, err)

	assert.Equal(t, "prov-doc-1", result.ProviderDocumentID)
	assert.Equal(t, "Bearer api-key-1", gotAuth)
	assert.Equal(t, "tmpl-loan-v3", gotReq.TemplateRef)
	assert.Equal(t, "Ada", gotReq.Fields["contact_first_name"])
}

func TestHTTPProvider_Submit_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCode  apperrors.ErrorCode
		retryable bool
	}{
		{"server error is transient", http.StatusInternalServerError, `{"message":"oops"}`, apperrors.ErrCodeProviderTransient, true},
		{"rate limit is transient", http.StatusTooManyRequests, `{}`, apperrors.ErrCodeProviderTransient, true},
		{"client rejection is permanent", http.StatusUnprocessableEntity, `{"message":"bad template"}`, apperrors.ErrCodeProviderPermanent, false},
		{"malformed success body is transient", http.StatusOK, `{"unexpected":true}`, apperrors.ErrCodeProviderTransient, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(server.Close)

			provider := NewHTTPProvider(server.URL, "api-key-1", 5*time.Second)
			_, err := provider.Submit(context.Background(), "tmpl-loan-v3", smartfields.FieldMap{})
			require.Error(t, err)

			assert.Equal(t, tt.wantCode, apperrors.CodeOf(err))
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
		})
	}
}

func TestHTTPProvider_Submit_ConnectionFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	provider := NewHTTPProvider(server.URL, "api-key-1", time.Second)
	_, err := provider.Submit(context.Background(), "tmpl-loan-v3", smartfields.FieldMap{})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}
