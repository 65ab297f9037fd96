// Package refdata implements C6's three reference-data dependencies —
// security master, account master, and credit — as HTTP lookups
// satisfying enricher.Lookup, each independently circuit-broken by the
// Enricher that holds them.
package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

// LookupError reports a non-2xx response from a reference-data
// dependency, carrying the status code so a caller can classify it (a
// 429 or 5xx is worth retrying; a 4xx client error is not).
type LookupError struct {
	Dependency string
	StatusCode int
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s responded with status %d", e.Dependency, e.StatusCode)
}

// Retryable reports whether this failure is transient: 429 (rate
// limited) or any 5xx (upstream fault), as opposed to a 4xx client
// error that retrying cannot fix.
func (e *LookupError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// httpLookup is the shared shape of all three reference-data calls: a
// GET against baseURL/<idField value>, expecting a flat JSON object of
// string fields to merge into the enrichment result.
type httpLookup struct {
	name     string
	baseURL  string
	idField  func(*model.TradeCaptureRequest) string
	client   *http.Client
}

func newHTTPLookup(name, baseURL string, idField func(*model.TradeCaptureRequest) string, connectTimeout, readTimeout time.Duration) *httpLookup {
	return &httpLookup{
		name:    name,
		baseURL: baseURL,
		idField: idField,
		client: &http.Client{
			Timeout: connectTimeout + readTimeout,
		},
	}
}

func (l *httpLookup) Name() string { return l.name }

// CacheKey identifies the result by the same field this lookup's HTTP
// call keys on, so two requests that share a securityId but differ in
// accountId (or vice versa) never collide in the enricher's cache.
func (l *httpLookup) CacheKey(req *model.TradeCaptureRequest) string {
	return l.idField(req)
}

func (l *httpLookup) Fetch(ctx context.Context, req *model.TradeCaptureRequest) (map[string]string, error) {
	id := l.idField(req)
	url := fmt.Sprintf("%s/%s", l.baseURL, id)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, &LookupError{Dependency: l.name, StatusCode: resp.StatusCode}
	}

	var fields map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		return nil, fmt.Errorf("%s returned malformed response: %w", l.name, err)
	}
	return fields, nil
}

// NewSecurityMasterLookup resolves a trade's SecurityID against the
// security master, expecting fields like "assetClass"/"currency".
func NewSecurityMasterLookup(baseURL string, connectTimeout, readTimeout time.Duration) *httpLookup {
	return newHTTPLookup("securityMaster", baseURL, func(r *model.TradeCaptureRequest) string { return r.SecurityID }, connectTimeout, readTimeout)
}

// NewAccountMasterLookup resolves a trade's AccountID, expecting the
// "accountStatus" field step-9 validation checks for "OPEN".
func NewAccountMasterLookup(baseURL string, connectTimeout, readTimeout time.Duration) *httpLookup {
	return newHTTPLookup("accountMaster", baseURL, func(r *model.TradeCaptureRequest) string { return r.AccountID }, connectTimeout, readTimeout)
}

// NewCreditLookup resolves a trade's AccountID against the credit
// system, expecting the "creditStatus" field step-9 validation checks
// for "BREACH".
func NewCreditLookup(baseURL string, connectTimeout, readTimeout time.Duration) *httpLookup {
	return newHTTPLookup("credit", baseURL, func(r *model.TradeCaptureRequest) string { return r.AccountID }, connectTimeout, readTimeout)
}
