package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/nstogner/agentx/pkg/domain"
	"github.com/nstogner/agentx/pkg/sandbox"
)

// --- Projects ---

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.ListProjects(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	s.jsonResponse(w, http.StatusOK, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, err)
			return
		}
	}

	p := &domain.Project{ID: uuid.New().String(), Name: strings.TrimSpace(req.Name)}
	if p.Name == "" {
		n, err := s.projects.CountProjects(r.Context())
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err)
			return
		}
		p.Name = fmt.Sprintf("New Project %d", n)
	}
	if err := s.projects.CreateProject(r.Context(), p); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, p)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupProject(w, r)
	if !ok {
		return
	}
	msgs, err := s.messages.ListMessages(r.Context(), p.ID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	s.jsonResponse(w, http.StatusOK, domain.ProjectDetails{Project: *p, Messages: msgs})
}

// lookupProject writes 404 for unknown projects.
func (s *Server) lookupProject(w http.ResponseWriter, r *http.Request) (*domain.Project, bool) {
	p, err := s.projects.GetProject(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrProjectNotFound) {
		s.errorResponse(w, http.StatusNotFound, err)
		return nil, false
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return p, true
}

// --- Sandbox ---

func (s *Server) attachSandbox(w http.ResponseWriter, r *http.Request) (*sandbox.Manager, bool) {
	p, ok := s.lookupProject(w, r)
	if !ok {
		return nil, false
	}
	if p.SandboxID == "" {
		s.errorResponse(w, http.StatusConflict, fmt.Errorf("project %s has no sandbox yet", p.ID))
		return nil, false
	}
	mgr := sandbox.NewManager(s.sandbox, s.opts.SandboxOptions)
	if err := mgr.Attach(r.Context(), p.SandboxID); err != nil {
		s.errorResponse(w, http.StatusConflict, err)
		return nil, false
	}
	return mgr, true
}

func (s *Server) handleListSandboxFiles(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.attachSandbox(w, r)
	if !ok {
		return
	}
	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))
	res := mgr.ListFiles(r.Context(), r.URL.Query().Get("path"), depth)
	entries, ok := res.Value()
	if !ok {
		s.errorResponse(w, http.StatusBadGateway, errors.New(res.Error()))
		return
	}
	if entries == nil {
		entries = []sandbox.Entry{}
	}
	s.jsonResponse(w, http.StatusOK, entries)
}

func (s *Server) handleReadSandboxFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.errorResponse(w, http.StatusBadRequest, errors.New("query parameter 'path' is required"))
		return
	}
	mgr, ok := s.attachSandbox(w, r)
	if !ok {
		return
	}
	res := mgr.ReadFiles(r.Context(), []string{path})
	files, ok := res.Value()
	if !ok || len(files) != 1 {
		s.errorResponse(w, http.StatusNotFound, errors.New(res.Error()))
		return
	}
	s.jsonResponse(w, http.StatusOK, files[0])
}

// --- Models ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.provider.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, models)
}
