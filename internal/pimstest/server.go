// Package pimstest provides an in-memory fake PIMS server for tests and
// local development. It speaks the same wire dialect as a real PIMS2
// deployment, keeps keyfile state in memory, and records every request so
// tests can assert on call counts and chunk sizes.
package pimstest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"pims/pkg/wire"
)

// RecordedRequest is one request as seen by the fake server.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

type keyPair struct {
	value  string
	source string
}

type keyfileState struct {
	info wire.KeyfileInfo
	// identity (value, source) -> pseudonym, plus the reverse index.
	forward map[keyPair]string
	reverse map[string][]keyPair
}

// Server is a fake PIMS server. Safe for concurrent use.
type Server struct {
	router chi.Router

	mu       sync.Mutex
	keyfiles map[int]*keyfileState
	requests []RecordedRequest
	counter  int
}

// New builds a fake server with no keyfiles. Mount Handler() somewhere or use
// Start for an httptest instance.
func New() *Server {
	s := &Server{keyfiles: map[int]*keyfileState{}}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Use(requireBearer)
	r.Get("/Keyfiles/ForUser/{userKey}", s.handleKeyfilesForUser)
	r.Get("/Keyfiles/{keyfileID}", s.handleGetKeyfile)
	r.Get("/Keyfiles/{keyfileID}/Users", s.handleKeyfileUsers)
	r.Get("/Users/{userKey}/Details", s.handleUserDetails)
	r.Post("/Keyfiles/{keyfileID}/Files/deidentify", s.handleDeidentify)
	r.Post("/Keyfiles/{keyfileID}/Identities/reidentify", s.handleReidentify)
	r.Post("/Keyfiles/{keyfileID}/Identities/exists", s.handleIdentitiesExist)
	r.Post("/Keyfiles/{keyfileID}/Pseudonyms/exists", s.handlePseudonymsExist)
	r.Post("/Keyfiles/{keyfileID}/Identities/set", s.handleSetKeys)
	r.Post("/Keyfiles/{keyfileID}/Identities/delete", s.handleDelete)
	s.router = r
	return s
}

// Start runs the fake server on an httptest listener torn down with the test.
func Start(t *testing.T) (*Server, string) {
	t.Helper()
	s := New()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv.URL
}

// Handler exposes the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AddKeyfile registers a keyfile. Existing state for the same id is replaced.
func (s *Server) AddKeyfile(info wire.KeyfileInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyfiles[info.ID] = &keyfileState{
		info:    info,
		forward: map[keyPair]string{},
		reverse: map[string][]keyPair{},
	}
}

// SetKey seeds one identity-pseudonym pair into a keyfile.
func (s *Server) SetKey(keyfileID int, identity, identitySource, pseudonym string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(s.keyfiles[keyfileID], identity, identitySource, pseudonym)
}

// Pseudonym looks up the stored pseudonym for one identity, for assertions.
func (s *Server) Pseudonym(keyfileID int, identity, identitySource string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kf, ok := s.keyfiles[keyfileID]
	if !ok {
		return "", false
	}
	pseudonym, ok := kf.forward[keyPair{identity, identitySource}]
	return pseudonym, ok
}

// Requests returns a copy of all recorded requests.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestsTo returns the recorded requests whose path ends in suffix.
func (s *Server) RequestsTo(suffix string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range s.Requests() {
		if strings.HasSuffix(r.Path, suffix) {
			out = append(out, r)
		}
	}
	return out
}

// RequestCount returns the number of HTTP requests seen so far.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Body:   body,
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// set stores a pair without collision checks, mirroring the real server's
// silent-skip on duplicate identities.
func (s *Server) set(kf *keyfileState, identity, identitySource, pseudonym string) {
	pair := keyPair{identity, identitySource}
	if _, exists := kf.forward[pair]; exists {
		return
	}
	kf.forward[pair] = pseudonym
	kf.reverse[pseudonym] = append(kf.reverse[pseudonym], pair)
}

func (s *Server) nextPseudonym() string {
	s.counter++
	return fmt.Sprintf("Pseudonym%06d", s.counter)
}

func (s *Server) keyfile(w http.ResponseWriter, r *http.Request) *keyfileState {
	id, err := strconv.Atoi(chi.URLParam(r, "keyfileID"))
	if err != nil {
		http.Error(w, `{"error":"bad keyfile id"}`, http.StatusBadRequest)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kf, ok := s.keyfiles[id]
	if !ok {
		http.Error(w, `{"error":"keyfile not found"}`, http.StatusNotFound)
		return nil
	}
	return kf
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleGetKeyfile(w http.ResponseWriter, r *http.Request) {
	kf := s.keyfile(w, r)
	if kf == nil {
		return
	}
	writeJSON(w, kf.info)
}

func (s *Server) handleKeyfilesForUser(w http.ResponseWriter, r *http.Request) {
	userKey := chi.URLParam(r, "userKey")
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := []wire.KeyfileInfo{}
	for _, kf := range s.keyfiles {
		for _, member := range kf.info.Members {
			if strconv.Itoa(member.User.ID) == userKey || member.User.Email == userKey {
				infos = append(infos, kf.info)
				break
			}
		}
	}
	writeJSON(w, map[string]any{"data": infos})
}

func (s *Server) handleKeyfileUsers(w http.ResponseWriter, r *http.Request) {
	kf := s.keyfile(w, r)
	if kf == nil {
		return
	}
	members := kf.info.Members
	if members == nil {
		members = []wire.Member{}
	}
	writeJSON(w, map[string]any{"data": members})
}

func (s *Server) handleUserDetails(w http.ResponseWriter, r *http.Request) {
	userKey := chi.URLParam(r, "userKey")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kf := range s.keyfiles {
		for _, member := range kf.info.Members {
			if strconv.Itoa(member.User.ID) == userKey || member.User.Email == userKey {
				writeJSON(w, map[string]any{"data": []wire.User{member.User}})
				return
			}
		}
	}
	writeJSON(w, map[string]any{"data": []wire.User{}})
}

func (s *Server) handleDeidentify(w http.ResponseWriter, r *http.Request) {
	kf := s.keyfile(w, r)
	if kf == nil {
		return
	}
	source := r.URL.Query().Get("identity_source")

	var columns []struct {
		Values []string `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&columns); err != nil || len(columns) == 0 {
		http.Error(w, `{"error":"bad deidentify payload"}`, http.StatusBadRequest)
		return
	}
	values := columns[0].Values

	s.mu.Lock()
	pseudonyms := make([]string, len(values))
	for i, value := range values {
		if value == "" {
			// Sentinel padding rows travel through untouched.
			continue
		}
		pair := keyPair{value, source}
		pseudonym, known := kf.forward[pair]
		if !known {
			pseudonym = s.nextPseudonym()
			s.set(kf, value, source, pseudonym)
		}
		pseudonyms[i] = pseudonym
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"results": []map[string]any{
			{"name": "Identifier", "values": values, "pseudonymisationAction": "Identifier"},
			{"name": "Identity Source", "values": sameValue(source, len(values)), "pseudonymisationAction": "IdentitySource"},
			{"name": "Pseudonym", "values": pseudonyms, "pseudonymisationAction": "PseudonymOutput"},
		},
		"comments": "",
	})
}

func sameValue(v string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func (s *Server) handleReidentify(w http.ResponseWriter, r *http.Request) {
	kf := s.keyfile(w, r)
	if kf == nil {
		return
	}
	var req struct {
		Items []string `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad reidentify payload"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	items := []map[string]any{}
	id := 5000000
	for _, value := range req.Items {
		if value == "" {
			continue
		}
		// Every collision across sources is returned; filtering is the
		// client's job.
		for _, pair := range kf.reverse[value] {
			id++
			items = append(items, map[string]any{
				"id":             id,
				"value":          pair.value,
				"identitySource": pair.source,
				"pseudonym":      value,
			})
		}
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"pseudonyms": map[string]any{
			"page":          0,
			"pageSize":      len(items),
			"totalCount":    len(items),
			"countComplete": true,
			"items":         items,
		},
		"headers": []string{},
	})
}

func (s *Server) handleIdentitiesExist(w http.ResponseWriter, r *http.Request) {
	kf := s.keyfile(w, r)
	if kf == nil {
		return
	}
	source := r.URL.Query().Get("identity_source")
	var values []string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		http.Error(w, `{"error":"bad exists payload"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]bool, len(values))
	for _, value := range values {
		_, known := kf.forward[keyPair{value, source}]
		result[value] = known
	}
	writeJSON(w, result)
}

func (s *Server) handlePseudonymsExist(w http.ResponseWriter, r *http.Request) {
	kf := s.keyfile(w, r)
	if kf == nil {
		return
	}
	var values []string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		http.Error(w, `{"error":"bad exists payload"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]bool, len(values))
	for _, value := range values {
		result[value] = len(kf.reverse[value]) > 0
	}
	writeJSON(w, result)
}

func (s *Server) handleSetKeys(w http.ResponseWriter, r *http.Request) {
	kf := s.keyfile(w, r)
	if kf == nil {
		return
	}
	var req struct {
		Items []struct {
			Identity       string `json:"identity"`
			IdentitySource string `json:"identitySource"`
			Pseudonym      string `json:"pseudonym"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad set payload"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Identities already present are skipped without any indication, like the
	// real server.
	for _, item := range req.Items {
		s.set(kf, item.Identity, item.IdentitySource, item.Pseudonym)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	kf := s.keyfile(w, r)
	if kf == nil {
		return
	}
	source := r.URL.Query().Get("identity_source")
	var values []string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		http.Error(w, `{"error":"bad delete payload"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, value := range values {
		pair := keyPair{value, source}
		pseudonym, known := kf.forward[pair]
		if !known {
			continue
		}
		delete(kf.forward, pair)
		remaining := kf.reverse[pseudonym][:0]
		for _, p := range kf.reverse[pseudonym] {
			if p != pair {
				remaining = append(remaining, p)
			}
		}
		if len(remaining) == 0 {
			delete(kf.reverse, pseudonym)
		} else {
			kf.reverse[pseudonym] = remaining
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
