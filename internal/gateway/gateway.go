// Copyright Contributors to the AgentRun project

// Package gateway implements the stdio submission gateway: a line-delimited
// JSON-RPC surface that translates tool calls into run resources.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	// ProtocolVersion is the handshake version reported to clients.
	ProtocolVersion = "2024-11-05"

	serverName = "agentrun-gateway"

	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// maxLineBytes bounds a single request line; rendered prompts and env maps
// can make tool calls large.
const maxLineBytes = 4 * 1024 * 1024

type request struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
}

type response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Result  interface{}      `json:"result,omitempty"`
	Error   *rpcError        `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server reads one JSON request per line from in and writes one JSON
// response per line to out. Reader and writer are injected so tests can run
// the full protocol over pipes.
type Server struct {
	in        io.Reader
	out       io.Writer
	client    client.Client
	namespace string
	version   string
	log       logr.Logger
}

// NewServer builds a gateway bound to one namespace.
func NewServer(in io.Reader, out io.Writer, c client.Client, namespace, version string, log logr.Logger) *Server {
	return &Server{
		in:        in,
		out:       out,
		client:    c,
		namespace: namespace,
		version:   version,
		log:       log,
	}
}

// Serve processes requests until the input stream ends or the context is
// cancelled.
func (s *Server) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	encoder := json.NewEncoder(s.out)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			if err := encoder.Encode(response{
				JSONRPC: "2.0",
				Error:   &rpcError{Code: codeParseError, Message: "parse error: " + err.Error()},
			}); err != nil {
				return err
			}
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil {
			continue
		}
		if err := encoder.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// dispatch routes one request. Notifications (no id, or a notifications/
// method) produce no response.
func (s *Server) dispatch(ctx context.Context, req *request) *response {
	if strings.HasPrefix(req.Method, "notifications/") || req.ID == nil {
		s.log.V(1).Info("notification received", "method", req.Method)
		return nil
	}

	resp := &response{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "initialize":
		resp.Result = map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"serverInfo": map[string]interface{}{
				"name":    serverName,
				"version": s.version,
			},
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
		}
	case "tools/list":
		resp.Result = map[string]interface{}{"tools": toolSchemas()}
	case "tools/call":
		result, err := s.callTool(ctx, req.Params)
		if err != nil {
			resp.Error = &rpcError{Code: codeInternalError, Message: err.Error()}
			if invalid, ok := err.(*invalidParamsError); ok {
				resp.Error = &rpcError{Code: codeInvalidParams, Message: invalid.Error()}
			}
		} else {
			resp.Result = result
		}
	default:
		resp.Error = &rpcError{
			Code:    codeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", req.Method),
		}
	}
	return resp
}

// invalidParamsError marks a tool call rejected before reaching the cluster.
type invalidParamsError struct {
	msg string
}

func (e *invalidParamsError) Error() string { return e.msg }

func invalidParamsf(format string, args ...interface{}) error {
	return &invalidParamsError{msg: fmt.Sprintf(format, args...)}
}
