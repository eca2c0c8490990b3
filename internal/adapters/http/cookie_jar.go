package http

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// OperationJar holds the cookies of one logical gateway operation. It is never
// persisted; callers create one per operation and drop it afterwards.
type OperationJar struct {
	mu      sync.Mutex
	cookies map[string][]*http.Cookie
	now     func() time.Time
}

func NewOperationJar() *OperationJar {
	return &OperationJar{
		cookies: make(map[string][]*http.Cookie),
		now:     time.Now,
	}
}

func (j *OperationJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if u == nil || cookies == nil {
		return
	}

	now := j.now()
	for _, c := range cookies {
		key := domainKey(c.Domain, u.Host)
		list := j.cookies[key]
		updated := false
		for i, existing := range list {
			if strings.EqualFold(existing.Name, c.Name) && samePath(existing.Path, c.Path) {
				if isExpired(c, now) {
					list = append(list[:i], list[i+1:]...)
				} else {
					list[i] = cloneCookie(c)
				}
				updated = true
				break
			}
		}
		if !updated && !isExpired(c, now) {
			list = append(list, cloneCookie(c))
		}
		j.cookies[key] = list
	}
}

func (j *OperationJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	var result []*http.Cookie
	if u == nil {
		return result
	}

	host := canonicalHost(u.Host)
	reqPath := u.Path
	if reqPath == "" {
		reqPath = "/"
	}
	now := j.now()

	for domain, list := range j.cookies {
		filtered := list[:0]
		for _, c := range list {
			if isExpired(c, now) {
				continue
			}
			filtered = append(filtered, c)
			if domainMatches(host, domain) && cookiePathMatch(c.Path, reqPath) {
				result = append(result, cloneCookie(c))
			}
		}
		j.cookies[domain] = filtered
	}
	return result
}

// Set stores name=value for u's host at path "/".
func (j *OperationJar) Set(u *url.URL, name, value string) {
	j.SetCookies(u, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

func (j *OperationJar) Get(u *url.URL, name string) (string, bool) {
	for _, c := range j.Cookies(u) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

func (j *OperationJar) HasCookies() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, list := range j.cookies {
		if len(list) > 0 {
			return true
		}
	}
	return false
}

func cloneCookie(c *http.Cookie) *http.Cookie {
	clone := *c
	return &clone
}

func canonicalHost(host string) string {
	host = strings.ToLower(host)
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.HasSuffix(host, "]") {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}

func domainKey(cookieDomain, host string) string {
	if cookieDomain != "" {
		return canonicalHost(strings.TrimPrefix(cookieDomain, "."))
	}
	return canonicalHost(host)
}

func domainMatches(host, domain string) bool {
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}

func samePath(a, b string) bool {
	if a == "" {
		a = "/"
	}
	if b == "" {
		b = "/"
	}
	return a == b
}

func cookiePathMatch(cookiePath, reqPath string) bool {
	if cookiePath == "" {
		cookiePath = "/"
	}
	return strings.HasPrefix(reqPath, cookiePath)
}

func isExpired(c *http.Cookie, now time.Time) bool {
	if c.MaxAge < 0 {
		return true
	}
	return !c.Expires.IsZero() && c.Expires.Before(now)
}
