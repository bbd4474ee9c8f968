package mock

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// GraphQLProject is a project held by GraphQLServer.
type GraphQLProject struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// GraphQLUser is a user held by GraphQLServer.
type GraphQLUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Enabled  bool   `json:"enabled"`
}

// GraphQLCall is one request received by GraphQLServer.
type GraphQLCall struct {
	Operation string
	Token     string
	Variables map[string]any
}

// GraphQLServer is a fake Cway GraphQL API. It dispatches on operationName
// and understands the project and user operations the cway client sends.
type GraphQLServer struct {
	server *httptest.Server

	mu          sync.Mutex
	tokens      map[string]bool
	projects    map[string]*GraphQLProject
	users       map[string]*GraphQLUser
	calls       []GraphQLCall
	failures    []int
	errMessages []string
	delay       time.Duration
}

// NewGraphQLServer starts a fake API. Only tokens registered with
// AcceptToken are authorized; with none registered any bearer is accepted.
func NewGraphQLServer() *GraphQLServer {
	s := &GraphQLServer{
		tokens:   make(map[string]bool),
		projects: make(map[string]*GraphQLProject),
		users:    make(map[string]*GraphQLUser),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the GraphQL endpoint.
func (s *GraphQLServer) URL() string { return s.server.URL + "/graphql" }

// Close shuts the server down.
func (s *GraphQLServer) Close() { s.server.Close() }

// AcceptToken authorizes token.
func (s *GraphQLServer) AcceptToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = true
}

// AddProject stores a project.
func (s *GraphQLServer) AddProject(p GraphQLProject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.State == "" {
		p.State = "ACTIVE"
	}
	s.projects[p.ID] = &p
}

// Project returns a copy of the stored project, or nil.
func (s *GraphQLServer) Project(id string) *GraphQLProject {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// AddUser stores a user.
func (s *GraphQLServer) AddUser(u GraphQLUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Username] = &u
}

// HasUser reports whether username exists.
func (s *GraphQLServer) HasUser(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[username]
	return ok
}

// FailNext makes the next len(statuses) requests fail with the given HTTP
// statuses, in order.
func (s *GraphQLServer) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

// SetDelay makes every response wait d before it is produced.
func (s *GraphQLServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// FailWithErrors makes every request return a GraphQL error response with
// the given messages until cleared with an empty call.
func (s *GraphQLServer) FailWithErrors(messages ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMessages = messages
}

// Calls returns the requests received so far.
func (s *GraphQLServer) Calls() []GraphQLCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GraphQLCall(nil), s.calls...)
}

// CallCount returns how many requests named op were received.
func (s *GraphQLServer) CallCount(op string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Operation == op {
			n++
		}
	}
	return n
}

func (s *GraphQLServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Query         string         `json:"query"`
		OperationName string         `json:"operationName"`
		Variables     map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, GraphQLCall{Operation: req.OperationName, Token: token, Variables: req.Variables})

	if len(s.failures) > 0 {
		status := s.failures[0]
		s.failures = s.failures[1:]
		w.WriteHeader(status)
		return
	}
	if token == "" || (len(s.tokens) > 0 && !s.tokens[token]) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="cway", error="invalid_token", error_description="unknown access token"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if len(s.errMessages) > 0 {
		errs := make([]map[string]string, 0, len(s.errMessages))
		for _, m := range s.errMessages {
			errs = append(errs, map[string]string{"message": m})
		}
		writeJSON(w, map[string]any{"data": nil, "errors": errs})
		return
	}

	var data map[string]any
	switch req.OperationName {
	case "GetProject":
		id, _ := req.Variables["id"].(string)
		if p, ok := s.projects[id]; ok {
			data = map[string]any{"project": p}
		} else {
			data = map[string]any{"project": nil}
		}
	case "FindUsers":
		prefix, _ := req.Variables["username"].(string)
		users := []*GraphQLUser{}
		for name, u := range s.users {
			if strings.HasPrefix(name, prefix) {
				users = append(users, u)
			}
		}
		data = map[string]any{"findUsers": users}
	case "DeleteProjects":
		for _, id := range stringList(req.Variables["projectIds"]) {
			delete(s.projects, id)
		}
		data = map[string]any{"deleteProjects": true}
	case "CloseProjects":
		for _, id := range stringList(req.Variables["projectIds"]) {
			if p, ok := s.projects[id]; ok {
				p.State = "CLOSED"
			}
		}
		data = map[string]any{"closeProjects": true}
	case "DeleteUser":
		ok := false
		for _, name := range stringList(req.Variables["usernames"]) {
			if _, exists := s.users[name]; exists {
				delete(s.users, name)
				ok = true
			}
		}
		data = map[string]any{"deleteUsers": ok}
	default:
		writeJSON(w, map[string]any{"errors": []map[string]string{{"message": "unknown operation " + req.OperationName}}})
		return
	}
	writeJSON(w, map[string]any{"data": data})
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
