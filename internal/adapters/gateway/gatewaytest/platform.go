// Package gatewaytest provides an in-process stand-in for the anyrouter
// console, gate included.
package gatewaytest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

const (
	// Token is served as arg1 on challenge pages; SolvedCookie is what the
	// solver must derive from it.
	Token        = "3A5F0C9B8E1D2F4A6B7C8D9E0F1A2B3C4D5E6F70"
	SolvedCookie = "752e5d5fe8f661df04d47a98c8ccc29f47dad5ab"

	// PrimedCookie is handed out by a successful console visit.
	PrimedCookie = "acw_tc"
)

func ChallengePage(token string) string {
	return fmt.Sprintf(`<html><script>var arg1='%s';var _0x=function(){document.cookie="acw_sc__v2="+x;location.reload();};</script></html>`, token)
}

type Request struct {
	Method string
	Path   string
	Query  string
	UserID string
	// HasUserID reports whether the new-api-user header was sent at all.
	HasUserID bool
	Cookies   map[string]string
	Body      string
	Response  int
}

type Platform struct {
	Server *httptest.Server

	mu sync.Mutex
	// ChallengeOnPriming makes /console answer with the gate until the
	// solved cookie is presented.
	ChallengeOnPriming bool
	// GateAPI does the same for every /api path.
	GateAPI bool
	// ChallengeToken overrides Token on challenge pages.
	ChallengeToken string
	// SignBodies are served to successive sign-in posts; the last repeats.
	SignBodies []string
	// SignStatus, when non-zero, is the status of every sign-in answer.
	SignStatus int
	// Routes maps "METHOD /path" to a JSON body.
	Routes map[string]string

	requests  []Request
	signCalls int
}

func NewPlatform() *Platform {
	p := &Platform{Routes: map[string]string{}}
	p.Server = httptest.NewServer(p)
	return p
}

func (p *Platform) Close() { p.Server.Close() }

func (p *Platform) URL() string { return p.Server.URL }

func (p *Platform) SetSignBodies(bodies ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SignBodies = bodies
	p.signCalls = 0
}

func (p *Platform) SetRoute(methodPath, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Routes[methodPath] = body
}

func (p *Platform) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}

// Count returns how many requests hit method+path.
func (p *Platform) Count(method, path string) int {
	n := 0
	for _, r := range p.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (p *Platform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := Request{
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     r.URL.RawQuery,
		UserID:    r.Header.Get("new-api-user"),
		HasUserID: len(r.Header.Values("new-api-user")) > 0,
		Cookies:   map[string]string{},
	}
	for _, c := range r.Cookies() {
		rec.Cookies[c.Name] = c.Value
	}
	if r.Body != nil {
		b, _ := io.ReadAll(r.Body)
		rec.Body = string(b)
	}

	status, body := p.answer(w, r, rec)
	rec.Response = status
	p.requests = append(p.requests, rec)

	if len(body) > 0 && body[0] == '{' {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/html")
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (p *Platform) answer(w http.ResponseWriter, r *http.Request, rec Request) (int, string) {
	solved := rec.Cookies["acw_sc__v2"] == SolvedCookie
	token := p.ChallengeToken
	if token == "" {
		token = Token
	}

	if r.URL.Path == "/console" {
		if p.ChallengeOnPriming && !solved {
			return http.StatusOK, ChallengePage(token)
		}
		w.Header().Add("Set-Cookie", (&http.Cookie{Name: PrimedCookie, Value: "primed", Path: "/"}).String())
		return http.StatusOK, "<html>console</html>"
	}

	if p.GateAPI && !solved {
		return http.StatusOK, ChallengePage(token)
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/user/sign_in" {
		body := `{"success":true,"message":""}`
		if len(p.SignBodies) > 0 {
			i := p.signCalls
			if i >= len(p.SignBodies) {
				i = len(p.SignBodies) - 1
			}
			body = p.SignBodies[i]
		}
		p.signCalls++
		status := http.StatusOK
		if p.SignStatus != 0 {
			status = p.SignStatus
		}
		return status, body
	}

	if body, ok := p.Routes[r.Method+" "+r.URL.Path]; ok {
		return http.StatusOK, body
	}
	return http.StatusNotFound, `{"success":false,"message":"not found"}`
}
