package xrpc

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/multicap/multicap/internal/log"
)

// Handler serves one RPC method. Returned errors become faults on the wire;
// a *Fault passes its code through, anything else maps to an internal fault.
type Handler func(args []any) (any, error)

// Server dispatches XML-RPC calls to registered handlers. It implements
// http.Handler so it can be mounted on any router. system.listMethods is
// built in; the discovery probe uses it as a capability handshake.
type Server struct {
	mu      sync.RWMutex
	methods map[string]Handler
}

// NewServer creates an empty dispatcher.
func NewServer() *Server {
	return &Server{methods: make(map[string]Handler)}
}

// Register adds a method handler. Registering an existing name replaces it.
func (s *Server) Register(name string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[name] = h
}

// Methods returns the registered method names, sorted, including the
// built-in system.listMethods.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.methods)+1)
	for name := range s.methods {
		names = append(names, name)
	}
	names = append(names, "system.listMethods")
	sort.Strings(names)
	return names
}

const maxRequestBytes = 1 << 20

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "read request", http.StatusBadRequest)
		return
	}

	method, args, err := unmarshalCall(body)
	if err != nil {
		s.writeFault(w, faultInternal, err.Error())
		return
	}

	logger := log.WithComponent("xrpc")

	if method == "system.listMethods" {
		s.writeResponse(w, toAny(s.Methods()))
		return
	}

	s.mu.RLock()
	handler, ok := s.methods[method]
	s.mu.RUnlock()
	if !ok {
		logger.Warn().Str("method", method).Msg("unsupported method called")
		s.writeFault(w, faultMethodNotFound, fmt.Sprintf("method %q is not supported", method))
		return
	}

	result, err := handler(args)
	if err != nil {
		if f, ok := err.(*Fault); ok {
			s.writeFault(w, f.Code, f.Reason)
			return
		}
		logger.Error().Err(err).Str("method", method).Msg("handler failed")
		s.writeFault(w, faultInternal, err.Error())
		return
	}

	s.writeResponse(w, result)
}

func (s *Server) writeResponse(w http.ResponseWriter, result any) {
	body, err := marshalResponse(result)
	if err != nil {
		s.writeFault(w, faultInternal, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(body)
}

func (s *Server) writeFault(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(marshalFault(code, reason))
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
