// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestWithURLParam(method, target, key, value string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// TestPurpose: Verifies that GET /clients/{id} returns the full client
// record for an active client.
// Scope: Handler Test
// Security: Client Registry Lookup
// Expected: 200 with the client's client_id field populated.
func TestHandler_GetClient_ReturnsActiveClient(t *testing.T) {
	h, _ := testHandler(t)
	registerResult := registerTestClient(t, h, confidentialRegisterInput())

	req := requestWithURLParam(http.MethodGet, "/clients/"+registerResult.ID, "id", registerResult.ID)
	w := httptest.NewRecorder()

	h.GetClient(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, registerResult.ID, body["client_id"])
}

// TestPurpose: Verifies that a deactivated client is indistinguishable from
// a nonexistent one at the client registry's read endpoint.
// Scope: Handler Test
// Security: Client Deactivation / Registry Invariant
// Expected: GET /clients/{id} returns 404, not the client's details, once
// the client has been deactivated.
func TestHandler_GetClient_DeactivatedClientReturnsNotFound(t *testing.T) {
	h, _ := testHandler(t)
	registerResult := registerTestClient(t, h, confidentialRegisterInput())

	require.NoError(t, h.Clients.Deactivate(context.Background(), registerResult.ID))

	req := requestWithURLParam(http.MethodGet, "/clients/"+registerResult.ID, "id", registerResult.ID)
	w := httptest.NewRecorder()

	h.GetClient(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestPurpose: Verifies that an unknown client id also returns 404, the
// same response a deactivated client gets.
// Scope: Handler Test
// Security: Client Registry Invariant
// Expected: 404 for an id that was never registered.
func TestHandler_GetClient_UnknownClientReturnsNotFound(t *testing.T) {
	h, _ := testHandler(t)

	req := requestWithURLParam(http.MethodGet, "/clients/does-not-exist", "id", "does-not-exist")
	w := httptest.NewRecorder()

	h.GetClient(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
