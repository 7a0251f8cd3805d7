package redirect

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrOriginAmbiguous is returned when an origin cannot be determined, for
// example for opaque schemes or malformed hosts. Callers must fail closed.
var ErrOriginAmbiguous = errors.New("origin is ambiguous")

// Origin is a tuple origin: scheme, canonical host and explicit port. The
// default port of the scheme is represented by an empty Port.
type Origin struct {
	Scheme string
	Host   string
	Port   string
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

// ParseOrigin extracts the origin of a URL. Only schemes with tuple origins
// are accepted; everything else yields ErrOriginAmbiguous.
func ParseOrigin(rawURL string) (Origin, error) {
	if rawURL == "" {
		return Origin{}, fmt.Errorf("%w: empty url", ErrOriginAmbiguous)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Origin{}, fmt.Errorf("%w: %v", ErrOriginAmbiguous, err)
	}

	scheme := strings.ToLower(u.Scheme)
	defaultPort, ok := defaultPorts[scheme]
	if !ok {
		return Origin{}, fmt.Errorf("%w: scheme %q has no tuple origin",
			ErrOriginAmbiguous, u.Scheme)
	}

	host, err := canonicalHost(u.Hostname())
	if err != nil {
		return Origin{}, err
	}

	port := u.Port()
	if port == defaultPort {
		port = ""
	}

	return Origin{Scheme: scheme, Host: host, Port: port}, nil
}

func canonicalHost(host string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrOriginAmbiguous)
	}

	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: host %q: %v", ErrOriginAmbiguous, host, err)
	}

	return strings.ToLower(ascii), nil
}

// String serializes the origin.
func (o Origin) String() string {
	host := o.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	if o.Port == "" {
		return o.Scheme + "://" + host
	}

	return o.Scheme + "://" + host + ":" + o.Port
}

// SameOrigin tells if two origins are the same.
func (o Origin) SameOrigin(other Origin) bool {
	return o == other
}
