package bendload

import (
	"net/http"
	"net/url"
	"sync"
)

// ignoreDomainCookieJar keeps session cookies regardless of the host that set
// them. The query endpoint may be reached through different gateway hosts
// within one session.
type ignoreDomainCookieJar struct {
	mu      sync.Mutex
	cookies map[string]*http.Cookie
}

func newIgnoreDomainCookieJar() *ignoreDomainCookieJar {
	return &ignoreDomainCookieJar{
		cookies: make(map[string]*http.Cookie),
	}
}

func (jar *ignoreDomainCookieJar) SetCookies(_ *url.URL, cookies []*http.Cookie) {
	jar.mu.Lock()
	defer jar.mu.Unlock()
	for _, cookie := range cookies {
		jar.cookies[cookie.Name] = cookie
	}
}

func (jar *ignoreDomainCookieJar) Cookies(u *url.URL) []*http.Cookie {
	jar.mu.Lock()
	defer jar.mu.Unlock()
	result := make([]*http.Cookie, 0, len(jar.cookies))
	for _, cookie := range jar.cookies {
		result = append(result, cookie)
	}
	return result
}
