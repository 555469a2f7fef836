// Package source maps the URLs users hand in to URLs the transfer engine can fetch.
package source

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	ErrNoGateway         = errors.New("no IPFS gateway configured")
	ErrMissingCID        = errors.New("missing IPFS content id")
)

// Resolver resolves http(s) URLs as they are and ipfs://<cid>[/path] URLs through a gateway.
type Resolver struct {
	gateway string
}

func NewResolver(gateway string) *Resolver {
	return &Resolver{gateway: strings.TrimRight(strings.TrimSpace(gateway), "/")}
}

func (r *Resolver) Resolve(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return "", fmt.Errorf("%w: missing host in %q", ErrUnsupportedScheme, raw)
		}

		return u.String(), nil
	case "ipfs":
		if u.Host == "" {
			return "", ErrMissingCID
		}

		if r.gateway == "" {
			return "", ErrNoGateway
		}

		resolved := GatewayURL(r.gateway, u.Host) + u.EscapedPath()
		if u.RawQuery != "" {
			resolved += "?" + u.RawQuery
		}

		return resolved, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}

// GatewayURL is the path-style gateway address of cid.
func GatewayURL(gateway, cid string) string {
	return strings.TrimRight(gateway, "/") + "/ipfs/" + cid
}
