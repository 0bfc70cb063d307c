// internal/signing/provider.go
package signing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "loanflow/internal/common/errors"
	httpclient "loanflow/internal/common/http"
	"loanflow/internal/smartfields"
)

// SubmitResult is the provider's acknowledgment of an accepted document.
type SubmitResult struct {
	ProviderDocumentID string `json:"providerDocumentId"`
}

// SigningProvider submits a prefilled document template for remote signature.
// Submit errors are classified: transient errors are retried by the queue,
// permanent errors terminate the job.
type SigningProvider interface {
	Submit(ctx context.Context, templateRef string, fields smartfields.FieldMap) (*SubmitResult, error)
}

// HTTPProvider talks to the e-signature vendor's REST API.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
}

func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httpclient.NewClient(timeout),
	}
}

type submitRequest struct {
	TemplateRef string                `json:"templateRef"`
	Fields      smartfields.FieldMap  `json:"fields"`
}

type submitResponse struct {
	DocumentID string `json:"documentId"`
	Message    string `json:"message,omitempty"`
}

func (p *HTTPProvider) Submit(ctx context.Context, templateRef string, fields smartfields.FieldMap) (*SubmitResult, error) {
	res, err := p.client.PostJSON(ctx, p.baseURL+"/v1/documents", p.apiKey,
		submitRequest{TemplateRef: templateRef, Fields: fields})
	if err != nil {
		// Network failures and timeouts are transient by definition.
		return nil, apperrors.NewTransientProviderError(err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		var out submitResponse
		if err := json.Unmarshal(raw, &out); err != nil || out.DocumentID == "" {
			return nil, apperrors.NewTransientProviderError(fmt.Errorf("malformed provider response: %s", string(raw)))
		}
		return &SubmitResult{ProviderDocumentID: out.DocumentID}, nil

	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return nil, apperrors.NewTransientProviderError(fmt.Errorf("provider returned %d: %s", res.StatusCode, string(raw)))

	default:
		return nil, apperrors.NewPermanentProviderError(fmt.Sprintf("provider returned %d: %s", res.StatusCode, string(raw)))
	}
}
