package piston

import "net/http"

// Transport performs one HTTP exchange. *http.Client satisfies it.
//
// A Transport returns an error only when no response was received; any
// response, whatever its status, is returned as-is. Cancellation and timeouts
// are the Transport's business: the request carries the caller's context.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(req *http.Request) (*http.Response, error)

func (f TransportFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}
