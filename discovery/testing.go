// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package discovery

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestProvider is a local TLS server that publishes a discovery document and
// a check session page, which makes writing tests much easier.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	mu                  sync.Mutex
	disableCheckSession bool
	disableEndSession   bool
	discoveryRequests   int

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider which is stopped by
// t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{t: t}
	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running
// webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// CheckSessionURL returns the check session iframe endpoint advertised by the
// provider.
func (p *TestProvider) CheckSessionURL() string { return p.Addr() + "/connect/checksession" }

// DisableCheckSession omits check_session_iframe from the discovery document.
func (p *TestProvider) DisableCheckSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableCheckSession = true
}

// DisableEndSession omits end_session_endpoint from the discovery document.
func (p *TestProvider) DisableEndSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableEndSession = true
}

// DiscoveryRequests returns how many times the discovery document was
// served.
func (p *TestProvider) DiscoveryRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryRequests
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.discoveryRequests++

		reply := struct {
			Issuer             string `json:"issuer"`
			AuthEndpoint       string `json:"authorization_endpoint"`
			TokenEndpoint      string `json:"token_endpoint"`
			JWKSURI            string `json:"jwks_uri"`
			UserinfoEndpoint   string `json:"userinfo_endpoint"`
			EndSessionEndpoint string `json:"end_session_endpoint,omitempty"`
			CheckSessionIframe string `json:"check_session_iframe,omitempty"`
		}{
			Issuer:             p.Addr(),
			AuthEndpoint:       p.Addr() + "/auth",
			TokenEndpoint:      p.Addr() + "/token",
			JWKSURI:            p.Addr() + "/certs",
			UserinfoEndpoint:   p.Addr() + "/userinfo",
			EndSessionEndpoint: p.Addr() + "/logout",
			CheckSessionIframe: p.CheckSessionURL(),
		}
		if p.disableCheckSession {
			reply.CheckSessionIframe = ""
		}
		if p.disableEndSession {
			reply.EndSessionEndpoint = ""
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(&reply)

	case "/connect/checksession":
		if req.Method != http.MethodGet || p.disableCheckSession {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, checkSessionPage)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// checkSessionPage answers every message with "unchanged". Real providers
// compare the posted session_state to their own.
const checkSessionPage = `<!DOCTYPE html>
<html><head><script>
window.addEventListener("message", function (e) {
  e.source.postMessage("unchanged", e.origin);
}, false);
</script></head><body></body></html>
`
