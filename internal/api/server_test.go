package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NevoLevi/mini-project-cdss/internal/config"
	"github.com/NevoLevi/mini-project-cdss/internal/domain"
	"github.com/NevoLevi/mini-project-cdss/internal/knowledge"
	"github.com/NevoLevi/mini-project-cdss/internal/repository"
	"github.com/NevoLevi/mini-project-cdss/internal/service"
)

var t0 = time.Date(2025, 4, 20, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg, err := config.NewManager()
	require.NoError(t, err)

	kb, err := knowledge.NewProvider(filepath.Join(t.TempDir(), "knowledge.json"), log)
	require.NoError(t, err)
	catalog, err := knowledge.NewCatalog(kb, log)
	require.NoError(t, err)

	patients := repository.NewPatientDirectory()
	patients.Put(domain.Patient{ID: "p-f", FirstName: "dana", LastName: "levi", Gender: domain.Female, Age: 34})

	store := repository.NewFactStore(kb, log)
	engine := service.NewEngine(log, store, nil, kb, catalog, patients)
	engine.SetClock(func() time.Time { return t0 })

	return NewServer(cfg, log, engine, kb)
}

type payload = map[string]any

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRecordAndLatestValue(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/patients/p-f/measurements", payload{
		"parameter":  "Hemoglobin",
		"value":      "7.5",
		"unit":       "g/dL",
		"valid_time": t0.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	path := fmt.Sprintf("/api/v1/patients/p-f/values/Hemoglobin?at=%s", t0.Add(time.Hour).Format(time.RFC3339))
	w = doJSON(t, s, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got service.LatestValueResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "7.5", got.Value)
	assert.Equal(t, knowledge.CodeHemoglobin, got.Parameter)
}

func TestRecordUnknownPatient(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/patients/ghost/measurements", payload{
		"parameter":  "Hemoglobin",
		"value":      "7.5",
		"valid_time": t0.Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLatestValueOutsideWindow(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/patients/p-f/measurements", payload{
		"parameter":  "Fever",
		"value":      "38.5",
		"valid_time": t0.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	path := fmt.Sprintf("/api/v1/patients/p-f/values/Fever?at=%s", t0.Add(48*time.Hour).Format(time.RFC3339))
	w = doJSON(t, s, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatesAndRecommendation(t *testing.T) {
	s := newTestServer(t)

	for param, value := range map[string]string{
		"Hemoglobin": "9.0",
		"WBC":        "6000",
		"Therapy":    "CCTG522",
		"Fever":      "39.0",
	} {
		w := doJSON(t, s, http.MethodPost, "/api/v1/patients/p-f/measurements", payload{
			"parameter":  param,
			"value":      value,
			"valid_time": t0.Format(time.RFC3339),
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	at := t0.Add(time.Hour).Format(time.RFC3339)
	w := doJSON(t, s, http.MethodGet, "/api/v1/patients/p-f/states?at="+at, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var states service.PatientStates
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &states))
	assert.Equal(t, "Moderate Anemia", states.Hemoglobin)
	assert.Equal(t, "Anemia", states.Hematological)
	assert.Equal(t, domain.GradeII, states.ToxicityGrade)

	w = doJSON(t, s, http.MethodGet, "/api/v1/patients/p-f/recommendation?at="+at, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec service.Recommendation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, domain.OutcomeProtocol, rec.Outcome.Kind)
}

func TestAllStatesEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/patients/p-f/measurements", payload{
		"parameter":  "Hemoglobin",
		"value":      "7.5",
		"valid_time": t0.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	at := t0.Add(time.Hour).Format(time.RFC3339)
	w = doJSON(t, s, http.MethodGet, "/api/v1/states?at="+at, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		States []service.PatientStates `json:"states"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.States, 1)
	assert.Equal(t, "p-f", resp.States[0].PatientID)
	assert.Equal(t, "Severe Anemia", resp.States[0].Hemoglobin)
}

func TestCohortGenderFilter(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/patients/p-f/measurements", payload{
		"parameter":  "Hemoglobin",
		"value":      "7.5",
		"valid_time": t0.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	at := t0.Add(time.Hour).Format(time.RFC3339)
	base := "/api/v1/cohort?state=Hemoglobin-state&value=Severe+Anemia&at=" + at

	w = doJSON(t, s, http.MethodGet, base+"&gender=female", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Patients []domain.Patient `json:"patients"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "p-f", resp.Patients[0].ID)

	w = doJSON(t, s, http.MethodGet, base+"&gender=male", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)

	w = doJSON(t, s, http.MethodGet, base+"&gender=unknown", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteRequiresSelector(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodDelete, "/api/v1/patients/p-f/measurements?parameter=Hemoglobin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKnowledgeRoundTrip(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/knowledge", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var doc domain.KnowledgeDocument
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Contains(t, doc.ClassificationTables, knowledge.TableHemoglobinState)

	// Tighten the female severe threshold and verify the next query sees it.
	rs := doc.ClassificationTables[knowledge.TableHemoglobinState]
	rs.Range[domain.Female.Key()][0].State = "Critical Anemia"
	w = doJSON(t, s, http.MethodPut, "/api/v1/knowledge/tables/"+knowledge.TableHemoglobinState, rs)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	wRec := doJSON(t, s, http.MethodPost, "/api/v1/patients/p-f/measurements", payload{
		"parameter":  "Hemoglobin",
		"value":      "7.0",
		"valid_time": t0.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, wRec.Code)

	at := t0.Add(time.Hour).Format(time.RFC3339)
	w = doJSON(t, s, http.MethodGet, "/api/v1/patients/p-f/states?at="+at, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var states service.PatientStates
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &states))
	assert.Equal(t, "Critical Anemia", states.Hemoglobin)
}

func TestPutTableRejectsInvalid(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodPut, "/api/v1/knowledge/tables/broken", payload{"type": "matrix"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStateIntervalsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/patients/p-f/measurements", payload{
		"parameter":  "Hemoglobin",
		"value":      "7.0",
		"valid_time": t0.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	path := fmt.Sprintf("/api/v1/patients/p-f/intervals/Hemoglobin-state?start=%s&end=%s",
		t0.Add(-14*24*time.Hour).Format(time.RFC3339),
		t0.Add(14*24*time.Hour).Format(time.RFC3339))
	w = doJSON(t, s, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Intervals []domain.StateInterval `json:"intervals"`
		Count     int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "Severe Anemia", resp.Intervals[0].State)

	w = doJSON(t, s, http.MethodGet, path+"&target=Severe+Anemia", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	w = doJSON(t, s, http.MethodGet, path+"&target=Moderate+Anemia", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count, "the target filter excludes every other state")
}
