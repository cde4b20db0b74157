package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenpvm/internal/config"
	"github.com/pbinitiative/zenpvm/internal/log"
	"github.com/pbinitiative/zenpvm/internal/rest/middleware"
	"github.com/pbinitiative/zenpvm/pkg/engine"
	"github.com/pbinitiative/zenpvm/pkg/persistence"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	PaginationDefaultPage = 1
	PaginationDefaultSize = 10

	maxResourceSize = 4 << 20
)

type Server struct {
	engine  *engine.Engine
	addr    string
	handler http.Handler
	server  *http.Server
}

func NewServer(e *engine.Engine, conf config.Config) *Server {
	r := chi.NewRouter()
	s := Server{
		engine:  e,
		addr:    conf.Server.Addr,
		handler: r,
		server: &http.Server{
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           r,
			Addr:              conf.Server.Addr,
		},
	}
	r.Use(middleware.Cors(conf.Server.AllowedOrigins))
	r.Use(middleware.Opentelemetry(conf))
	r.Use(middleware.Identity())
	r.Use(middleware.NormalizeQuery("processInstanceId", "caseInstanceId", "taskId", "executionId", "tenantId"))
	r.Route(strings.TrimSuffix(conf.Server.Context, "/")+"/v1", func(r chi.Router) {
		r.Route("/process-definitions", func(r chi.Router) {
			r.Post("/", s.deploy)
			r.Get("/", s.processDefinitions)
			r.Post("/{definitionId}/instances", s.startByID)
			r.Post("/key/{definitionKey}/instances", s.startByKey)
		})
		r.Route("/executions/{executionId}", func(r chi.Router) {
			r.Post("/signal", s.signal)
			r.Post("/business-fault", s.businessFault)
			r.Get("/variables", s.getVariables)
			r.Put("/variables", s.setVariables)
			r.Delete("/variables/{name}", s.removeVariable)
		})
		r.Route("/process-instances/{processInstanceId}", func(r chi.Router) {
			r.Get("/executions", s.executions)
			r.Post("/activities/{activityId}/business-fault", s.activityBusinessFault)
			r.Delete("/", s.deleteProcessInstance)
		})
		r.Route("/history", func(r chi.Router) {
			r.Get("/variables", s.historicVariables)
			r.Get("/variables/count", s.countHistoricVariables)
			r.Delete("/variables", s.deleteHistoricVariables)
			r.Get("/process-instances/{processInstanceId}", s.historicProcessInstance)
			r.Delete("/process-instances/{processInstanceId}", s.deleteHistoricProcessInstance)
		})
	})
	// register system endpoints
	r.Route("/system", func(r chi.Router) {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, e.Status())
		})
	})
	return &s
}

// Handler returns the router serving the API.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() net.Listener {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		log.Error("failed to listen: %v", err)
		return nil
	}
	log.Info("ZenPvm REST server listening on %s", s.addr)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("Error starting server: %s", err)
		}
	}()
	return listener
}

func (s *Server) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		log.Error("Error stopping server: %s", err)
	}
}

func (s *Server) deploy(w http.ResponseWriter, r *http.Request) {
	resource, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxResourceSize))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	deployment, err := s.engine.Deploy(r.Context(), resource, r.URL.Query().Get("tenantId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	status := http.StatusCreated
	if deployment.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, toProcessDefinition(deployment))
}

func (s *Server) processDefinitions(w http.ResponseWriter, r *http.Request) {
	page, size, err := pagination(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	deployments, err := s.engine.ProcessDefinitions(r.Context(), storagePage(page, size))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	res := ProcessDefinitionsPage{Items: make([]ProcessDefinition, 0, len(deployments)), Page: page, Size: size}
	for _, d := range deployments {
		res.Items = append(res.Items, toProcessDefinition(d))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) startByID(w http.ResponseWriter, r *http.Request) {
	s.start(w, r, engine.StartRequest{DefinitionID: chi.URLParam(r, "definitionId")})
}

func (s *Server) startByKey(w http.ResponseWriter, r *http.Request) {
	s.start(w, r, engine.StartRequest{DefinitionKey: chi.URLParam(r, "definitionKey")})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request, req engine.StartRequest) {
	var body StartProcessInstanceRequest
	if err := readJSON(r, &body); err != nil {
		writeBadRequest(w, err)
		return
	}
	req.TenantID = valueOr(body.TenantId, "")
	req.CaseInstanceID = valueOr(body.CaseInstanceId, "")
	req.Variables = body.Variables
	pi, err := s.engine.StartProcessInstance(r.Context(), req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProcessInstance(pi))
}

func (s *Server) signal(w http.ResponseWriter, r *http.Request) {
	var body SignalRequest
	if err := readJSON(r, &body); err != nil {
		writeBadRequest(w, err)
		return
	}
	pi, err := s.engine.Signal(r.Context(), chi.URLParam(r, "executionId"), valueOr(body.SignalName, ""), body.Payload)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessInstance(pi))
}

func (s *Server) businessFault(w http.ResponseWriter, r *http.Request) {
	s.submitFault(w, r, engine.FaultRequest{ExecutionID: chi.URLParam(r, "executionId")})
}

func (s *Server) activityBusinessFault(w http.ResponseWriter, r *http.Request) {
	s.submitFault(w, r, engine.FaultRequest{
		ProcessInstanceID: chi.URLParam(r, "processInstanceId"),
		ActivityID:        chi.URLParam(r, "activityId"),
	})
}

func (s *Server) submitFault(w http.ResponseWriter, r *http.Request, req engine.FaultRequest) {
	var body BusinessFaultRequest
	if err := readJSON(r, &body); err != nil {
		writeBadRequest(w, err)
		return
	}
	req.ErrorCode = body.ErrorCode
	req.ErrorMessage = valueOr(body.ErrorMessage, "")
	req.Variables = body.Variables
	pi, err := s.engine.SubmitBusinessFault(r.Context(), req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessInstance(pi))
}

func (s *Server) getVariables(w http.ResponseWriter, r *http.Request) {
	variables, err := s.engine.GetVariables(r.Context(), chi.URLParam(r, "executionId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, variables)
}

func (s *Server) setVariables(w http.ResponseWriter, r *http.Request) {
	var body SetVariablesRequest
	if err := readJSON(r, &body); err != nil {
		writeBadRequest(w, err)
		return
	}
	err := s.engine.SetVariables(r.Context(), chi.URLParam(r, "executionId"), body.Variables, valueOr(body.Local, false))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeVariable(w http.ResponseWriter, r *http.Request) {
	err := s.engine.RemoveVariables(r.Context(), chi.URLParam(r, "executionId"), chi.URLParam(r, "name"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) executions(w http.ResponseWriter, r *http.Request) {
	executions, err := s.engine.GetExecutions(r.Context(), chi.URLParam(r, "processInstanceId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExecutions(executions))
}

func (s *Server) deleteProcessInstance(w http.ResponseWriter, r *http.Request) {
	err := s.engine.DeleteProcessInstance(r.Context(), chi.URLParam(r, "processInstanceId"), r.URL.Query().Get("reason"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func historicVariableQuery(r *http.Request) (*persistence.HistoricVariableInstanceQuery, error) {
	q := r.URL.Query()
	query := &persistence.HistoricVariableInstanceQuery{
		VariableName:         q.Get("variableName"),
		ProcessInstanceIDs:   q["processInstanceId"],
		CaseInstanceIDs:      q["caseInstanceId"],
		TaskIDs:              q["taskId"],
		ExecutionIDs:         q["executionId"],
		ProcessDefinitionKey: q.Get("processDefinitionKey"),
		TenantIDs:            q["tenantId"],
	}
	if v := q.Get("includeDeleted"); v != "" {
		includeDeleted, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("includeDeleted: %w", err)
		}
		query.IncludeDeleted = includeDeleted
	}
	return query, nil
}

func (s *Server) historicVariables(w http.ResponseWriter, r *http.Request) {
	page, size, err := pagination(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	query, err := historicVariableQuery(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	variables, err := s.engine.QueryHistoricVariables(r.Context(), query, storagePage(page, size))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	res := HistoricVariablesPage{Items: make([]HistoricVariable, 0, len(variables)), Page: page, Size: size}
	for _, v := range variables {
		res.Items = append(res.Items, toHistoricVariable(v))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) countHistoricVariables(w http.ResponseWriter, r *http.Request) {
	query, err := historicVariableQuery(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	count, err := s.engine.CountHistoricVariables(r.Context(), query)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Count{Count: count})
}

func (s *Server) deleteHistoricVariables(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := s.engine.DeleteHistoricVariableInstances(r.Context(), q.Get("processInstanceId"), q.Get("caseInstanceId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) historicProcessInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "processInstanceId")
	instance, err := s.engine.HistoricProcessInstance(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	activities, err := s.engine.HistoricActivities(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoricProcessInstance(instance, activities))
}

func (s *Server) deleteHistoricProcessInstance(w http.ResponseWriter, r *http.Request) {
	err := s.engine.DeleteHistoricProcessInstance(r.Context(), chi.URLParam(r, "processInstanceId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readJSON decodes the request body into v. An empty body leaves v untouched.
func readJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("Server error: %s", err)
	}
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, ApiError{
		Message: err.Error(),
		Type:    "BAD_REQUEST",
	})
}

func pagination(r *http.Request) (int, int, error) {
	page, size := PaginationDefaultPage, PaginationDefaultSize
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			return 0, 0, fmt.Errorf("page must be a positive number, got %q", v)
		}
		page = p
	}
	if v := q.Get("size"); v != "" {
		s, err := strconv.Atoi(v)
		if err != nil || s < 1 {
			return 0, 0, fmt.Errorf("size must be a positive number, got %q", v)
		}
		size = s
	}
	return page, size, nil
}

func storagePage(page int, size int) *storage.Page {
	return &storage.Page{FirstResult: (page - 1) * size, MaxResults: size}
}
