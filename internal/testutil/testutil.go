// Package testutil provides common test utilities and helpers for VoxPrep
// tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxprep/VoxPrep/internal/models"
	"github.com/voxprep/VoxPrep/internal/store"
)

// AssertHTTPStatus checks the HTTP status code and fails the test if it
// doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes an enveloped JSON response and validates the
// status field, returning the decoded body for further checks.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s' (message: %v)", expectedStatus, status, response["message"])
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// SeedVisaIntake stores a valid visa-flow intake record for a user.
func SeedVisaIntake(t *testing.T, st store.Store, userID string) models.IntakeRecord {
	t.Helper()
	rec := models.IntakeRecord{
		Flow:               models.FlowVisa,
		Name:               "Amira Hassan",
		VisaType:           "B1/B2",
		OriginCountry:      "Egypt",
		DestinationCountry: "United States",
		Employer:           "Cairo Analytics",
	}
	if err := st.SaveIntakeRecord(userID, rec); err != nil {
		t.Fatalf("failed to seed intake record: %v", err)
	}
	return rec
}

// SeedHealthcareIntake stores a valid healthcare-flow intake record for a
// user.
func SeedHealthcareIntake(t *testing.T, st store.Store, userID string) models.IntakeRecord {
	t.Helper()
	rec := models.IntakeRecord{
		Flow:           models.FlowHealthcare,
		Name:           "Dana Osei",
		JobTitle:       "Staff Nurse",
		CareSpeciality: "ICU",
	}
	if err := st.SaveIntakeRecord(userID, rec); err != nil {
		t.Fatalf("failed to seed intake record: %v", err)
	}
	return rec
}

// SeedEntitlement stores a minute balance for a (user, agent) pair.
func SeedEntitlement(t *testing.T, st store.Store, userID, agentID string, minutes int) {
	t.Helper()
	if err := st.SaveEntitlement(models.Entitlement{UserID: userID, AgentID: agentID, PurchaseUnits: minutes}); err != nil {
		t.Fatalf("failed to seed entitlement: %v", err)
	}
}

// MustMarshalJSON marshals a value to JSON and fails the test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON into target and fails the test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
