package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pbinitiative/zenpvm/internal/config"
	"github.com/pbinitiative/zenpvm/internal/rest/middleware"
	"github.com/pbinitiative/zenpvm/pkg/engine"
	"github.com/pbinitiative/zenpvm/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewDocument = `
id: review
name: Review
activities:
  - id: submit
    type: automatic
    outgoing:
      - to: review
  - id: review
    type: wait
    errorHandlers:
      - errorCode: REJECTED
        to: rejected
    outgoing:
      - to: done
  - id: rejected
    type: wait
  - id: done
    type: automatic
`

type testServer struct {
	t       *testing.T
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	store, err := engine.OpenStorage(engine.DriverMemory, "")
	require.NoError(t, err)
	e, err := engine.New(store, engine.WithQueryConfigurers(persistence.TenantQueryConfigurer{}))
	require.NoError(t, err)
	s := NewServer(e, config.Config{Server: config.Server{Context: "/", Addr: ":0"}})
	return &testServer{t: t, handler: s.Handler()}
}

func (ts *testServer) do(method string, path string, body any, headers ...string) *httptest.ResponseRecorder {
	ts.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func ref[T any](v T) *T {
	return &v
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) deploy() ProcessDefinition {
	rec := ts.do(http.MethodPost, "/v1/process-definitions", reviewDocument)
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ProcessDefinition](ts.t, rec)
}

func waitingExecution(t *testing.T, pi ProcessInstance, activityID string) string {
	t.Helper()
	for _, x := range pi.Executions {
		if x.ActivityId == activityID && x.Active {
			return x.Id
		}
	}
	require.Failf(t, "no execution waits", "activity %s", activityID)
	return ""
}

func TestDeployReturnsExistingVersionForSameResource(t *testing.T) {
	// setup
	ts := newTestServer(t)
	first := ts.deploy()

	// when
	rec := ts.do(http.MethodPost, "/v1/process-definitions", reviewDocument)

	// then
	assert.Equal(t, http.StatusOK, rec.Code)
	again := decode[ProcessDefinition](t, rec)
	assert.Equal(t, first.Id, again.Id)
	assert.Equal(t, 1, again.Version)

	list := ts.do(http.MethodGet, "/v1/process-definitions?page=1&size=5", nil)
	require.Equal(t, http.StatusOK, list.Code)
	page := decode[ProcessDefinitionsPage](t, list)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 5, page.Size)
}

func TestDeployRejectsInvalidDefinition(t *testing.T) {
	// setup
	ts := newTestServer(t)

	// when
	rec := ts.do(http.MethodPost, "/v1/process-definitions", "id: broken\nactivities:\n  - id: a\n    type: teleport\n")

	// then
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", decode[ApiError](t, rec).Type)
}

func TestStartSignalAndReadHistory(t *testing.T) {
	// setup
	ts := newTestServer(t)
	definition := ts.deploy()

	// given
	rec := ts.do(http.MethodPost, "/v1/process-definitions/"+definition.Id+"/instances", StartProcessInstanceRequest{
		Variables: map[string]any{"author": "jane"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pi := decode[ProcessInstance](t, rec)
	executionID := waitingExecution(t, pi, "review")

	rec = ts.do(http.MethodGet, "/v1/executions/"+executionID+"/variables", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"author": "jane"}, decode[map[string]any](t, rec))

	// when
	rec = ts.do(http.MethodPost, "/v1/executions/"+executionID+"/signal", SignalRequest{
		Payload: map[string]any{"approved": true},
	})

	// then
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[ProcessInstance](t, rec).Ended)

	rec = ts.do(http.MethodGet, "/v1/history/process-instances/"+pi.Id, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	historic := decode[HistoricProcessInstance](t, rec)
	assert.Equal(t, "COMPLETED", historic.State)
	assert.NotNil(t, historic.EndTime)

	rec = ts.do(http.MethodGet, "/v1/history/variables?processInstanceId="+pi.Id+"&variableName=approved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	variables := decode[HistoricVariablesPage](t, rec)
	require.Len(t, variables.Items, 1)
	assert.Equal(t, true, variables.Items[0].Value)

	rec = ts.do(http.MethodGet, "/v1/history/variables/count?processInstanceId="+pi.Id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), decode[Count](t, rec).Count)

	// signalling an ended execution is not possible anymore
	rec = ts.do(http.MethodPost, "/v1/executions/"+executionID+"/signal", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBusinessFaultByActivity(t *testing.T) {
	// setup
	ts := newTestServer(t)
	ts.deploy()
	rec := ts.do(http.MethodPost, "/v1/process-definitions/key/review/instances", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pi := decode[ProcessInstance](t, rec)

	// when
	rec = ts.do(http.MethodPost, "/v1/process-instances/"+pi.Id+"/activities/review/business-fault", BusinessFaultRequest{
		ErrorCode:    "REJECTED",
		ErrorMessage: ref("not good enough"),
	})

	// then
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	waitingExecution(t, decode[ProcessInstance](t, rec), "rejected")
}

func TestUnhandledBusinessFault(t *testing.T) {
	// setup
	ts := newTestServer(t)
	ts.deploy()
	rec := ts.do(http.MethodPost, "/v1/process-definitions/key/review/instances", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	executionID := waitingExecution(t, decode[ProcessInstance](t, rec), "review")

	// when
	rec = ts.do(http.MethodPost, "/v1/executions/"+executionID+"/business-fault", BusinessFaultRequest{ErrorCode: "UNKNOWN"})

	// then
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// and the instance still waits
	rec = ts.do(http.MethodPost, "/v1/executions/"+executionID+"/signal", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[ProcessInstance](t, rec).Ended)
}

func TestBusinessFaultRequiresErrorCode(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/v1/executions/any/business-fault", BusinessFaultRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVariablesAndDeletion(t *testing.T) {
	// setup
	ts := newTestServer(t)
	ts.deploy()
	rec := ts.do(http.MethodPost, "/v1/process-definitions/key/review/instances", StartProcessInstanceRequest{
		CaseInstanceId: ref("case-7"),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	pi := decode[ProcessInstance](t, rec)
	executionID := waitingExecution(t, pi, "review")

	// when
	rec = ts.do(http.MethodPut, "/v1/executions/"+executionID+"/variables", SetVariablesRequest{
		Variables: map[string]any{"score": 3},
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = ts.do(http.MethodPut, "/v1/executions/"+executionID+"/variables", SetVariablesRequest{
		Local:     ref(true),
		Variables: map[string]any{"note": "check"},
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = ts.do(http.MethodDelete, "/v1/executions/"+executionID+"/variables/note", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// then
	rec = ts.do(http.MethodGet, "/v1/executions/"+executionID+"/variables", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"score": float64(3)}, decode[map[string]any](t, rec))

	rec = ts.do(http.MethodGet, "/v1/process-instances/"+pi.Id+"/executions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[[]Execution](t, rec))

	rec = ts.do(http.MethodDelete, "/v1/process-instances/"+pi.Id+"?reason=obsolete", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/v1/process-instances/"+pi.Id+"/executions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/history/process-instances/"+pi.Id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	historic := decode[HistoricProcessInstance](t, rec)
	assert.Equal(t, "DELETED", historic.State)
	assert.Equal(t, "obsolete", historic.DeleteReason)
	assert.Equal(t, "case-7", historic.CaseInstanceId)

	rec = ts.do(http.MethodDelete, "/v1/history/variables?caseInstanceId=case-7", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = ts.do(http.MethodGet, "/v1/history/variables/count?caseInstanceId=case-7&includeDeleted=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decode[Count](t, rec).Count)

	rec = ts.do(http.MethodDelete, "/v1/history/process-instances/"+pi.Id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = ts.do(http.MethodGet, "/v1/history/process-instances/"+pi.Id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteHistoricVariablesRequiresOneInstance(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodDelete, "/v1/history/variables", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTenantHeaderRestrictsHistory(t *testing.T) {
	// setup
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/v1/process-definitions?tenantId=acme", reviewDocument)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	definition := decode[ProcessDefinition](t, rec)
	assert.Equal(t, "acme", definition.TenantId)
	rec = ts.do(http.MethodPost, "/v1/process-definitions/"+definition.Id+"/instances", StartProcessInstanceRequest{
		Variables: map[string]any{"secret": "x"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// when
	own := ts.do(http.MethodGet, "/v1/history/variables/count?variableName=secret", nil, middleware.TenantHeader, "acme")
	other := ts.do(http.MethodGet, "/v1/history/variables/count?variableName=secret", nil, middleware.TenantHeader, "globex")

	// then
	require.Equal(t, http.StatusOK, own.Code)
	require.Equal(t, http.StatusOK, other.Code)
	assert.Equal(t, int64(1), decode[Count](t, own).Count)
	assert.Equal(t, int64(0), decode[Count](t, other).Count)
}

func TestPaginationValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/v1/process-definitions?page=0", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(decode[ApiError](t, rec).Message, "page"))
}

func TestSystemStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/system/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[engine.Status](t, rec)
	assert.True(t, status.HistoryEnabled)
}
