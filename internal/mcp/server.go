/*
Package mcp implements the MCP server that exposes the review memory.

The server uses stdio transport and exposes 5 tools:
  - memory_context: Ranked, token-budgeted history for the files under review
  - memory_learn: Store a finished review and learn from its concepts
  - memory_session_start: Open a learning session for one review run
  - memory_session_end: Close the session and reinforce its concept pairs
  - memory_session_stats: Report recent learning sessions
*/
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khanglvm/review-memory/internal/config"
	"github.com/khanglvm/review-memory/internal/engine"
	"github.com/khanglvm/review-memory/internal/learning"
	"github.com/khanglvm/review-memory/internal/version"
)

// maxRequestSize bounds one JSON-RPC line.
const maxRequestSize = 4 * 1024 * 1024

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolError      = -32000
)

// Server represents the review-memory MCP server.
type Server struct {
	engine *engine.Engine
	logger *zap.Logger

	// session is the learning session opened through memory_session_start.
	session *learning.Session
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	out    io.Writer
	outMu  sync.Mutex
}

// NewServer creates a new MCP server over an engine.
func NewServer(e *engine.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		engine: e,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		out:    os.Stdout,
	}
}

// Context returns the server lifetime context.
func (s *Server) Context() context.Context {
	return s.ctx
}

// Run starts the MCP server using stdio transport.
// This blocks until stdin is closed.
func (s *Server) Run() error {
	return s.Serve(os.Stdin, os.Stdout)
}

// Serve reads one JSON-RPC request per line from in and writes responses to
// out until in is exhausted or the server is closed.
func (s *Server) Serve(in io.Reader, out io.Writer) error {
	s.outMu.Lock()
	s.out = out
	s.outMu.Unlock()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestSize)

	for scanner.Scan() {
		if s.ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		response, err := s.handleRequest(line)
		if err != nil {
			s.sendError(err)
			continue
		}

		if response != nil {
			s.sendResponse(response)
		}
	}

	return scanner.Err()
}

// Close ends the server's open learning session, reinforcing its pairs, and
// cancels in-flight work.
func (s *Server) Close() error {
	s.mu.Lock()
	session := s.session
	s.session = nil
	s.mu.Unlock()

	var err error
	if session.Active() {
		var pairs int
		pairs, err = s.engine.Tracker().EndSession(s.ctx, session)
		if err != nil {
			s.logger.Warn("failed to end learning session on shutdown", zap.Int64("session_id", session.ID), zap.Error(err))
		} else {
			s.logger.Info("ended learning session on shutdown", zap.Int64("session_id", session.ID), zap.Int("pairs", pairs))
		}
	}
	s.cancel()
	return err
}

// MCPRequest represents an incoming MCP JSON-RPC request.
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing MCP JSON-RPC response.
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents an MCP error.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleRequest processes an incoming MCP request. Notifications get no
// response.
func (s *Server) handleRequest(data []byte) (*MCPResponse, error) {
	var req MCPRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC request: %w", err)
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(&req)
	case "ping":
		return &MCPResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}, nil
	case "tools/list":
		return s.handleToolsList(&req)
	case "tools/call":
		return s.handleToolsCall(&req)
	}

	if req.ID == nil && strings.HasPrefix(req.Method, "notifications/") {
		return nil, nil
	}
	return errorResponse(req.ID, codeMethodNotFound, "Method not found"), nil
}

// handleInitialize handles the MCP initialize request.
func (s *Server) handleInitialize(req *MCPRequest) (*MCPResponse, error) {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "review-memory",
				"version": version.Version,
			},
		},
	}, nil
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func intProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}

func filesProp() map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": "Paths of the files under review",
	}
}

// handleToolsList returns the tool catalog.
func (s *Server) handleToolsList(req *MCPRequest) (*MCPResponse, error) {
	tools := []map[string]interface{}{
		{
			"name": "memory_context",
			"description": `Get relevant past code reviews for the files about to be reviewed.

WHEN TO USE: Before reviewing a change, to surface earlier findings on the same files and related concepts.

Returns: Token-budgeted text. Strong matches are shown in detail, weaker ones as one-line summaries.`,
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"files":   filesProp(),
					"text":    stringProp("Free text describing the change (optional)"),
					"project": stringProp("Restrict history to one project (optional)"),
					"limit":   intProp("Maximum number of past reviews to consider"),
					"budget":  intProp("Token budget for the rendered context"),
				},
			},
		},
		{
			"name": "memory_learn",
			"description": `Store a finished code review and learn from it.

WHEN TO USE: After a review completes. If a session is open, the review's concepts are also added to it.`,
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"project":      stringProp("Project name"),
					"commit":       stringProp("Reviewed commit"),
					"files":        filesProp(),
					"diff":         stringProp("Reviewed diff"),
					"result":       stringProp("Review output"),
					"status":       stringProp("Review outcome, e.g. approved or changes_requested"),
					"provider":     stringProp("AI provider that produced the review"),
					"model":        stringProp("Model that produced the review"),
					"concept_text": stringProp("Text to derive term concepts from instead of the result"),
				},
				"required": []string{"result"},
			},
		},
		{
			"name": "memory_session_start",
			"description": `Open a learning session for one review run. Concepts learned until memory_session_end are reinforced together.

An already open session is ended first.`,
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"ref":     stringProp("External session reference (generated when omitted)"),
					"project": stringProp("Project name"),
					"commit":  stringProp("Commit under review"),
				},
			},
		},
		{
			"name":        "memory_session_end",
			"description": `Close the open learning session and reinforce every pair of its concepts.`,
			"inputSchema": map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			"name":        "memory_session_stats",
			"description": `List recent learning sessions with their distinct concept counts, most recent first.`,
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit": intProp("Maximum sessions to list"),
				},
			},
		},
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": tools,
		},
	}, nil
}

// handleToolsCall handles tool execution requests.
func (s *Server) handleToolsCall(req *MCPRequest) (*MCPResponse, error) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, fmt.Sprintf("invalid params: %v", err)), nil
	}
	if len(params.Arguments) == 0 || string(params.Arguments) == "null" {
		params.Arguments = json.RawMessage("{}")
	}

	var result string
	var err error

	switch params.Name {
	case "memory_context":
		result, err = s.execContext(params.Arguments)
	case "memory_learn":
		result, err = s.execLearn(params.Arguments)
	case "memory_session_start":
		result, err = s.execSessionStart(params.Arguments)
	case "memory_session_end":
		result, err = s.execSessionEnd()
	case "memory_session_stats":
		result, err = s.execSessionStats(params.Arguments)
	default:
		return errorResponse(req.ID, codeInvalidParams, fmt.Sprintf("Unknown tool: %s", params.Name)), nil
	}

	if err != nil {
		code := codeToolError
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if config.IsConfigError(err) || errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			code = codeInvalidParams
		}
		return errorResponse(req.ID, code, err.Error()), nil
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": result,
				},
			},
		},
	}, nil
}

// execContext ranks and renders past reviews.
func (s *Server) execContext(raw json.RawMessage) (string, error) {
	var req engine.ContextRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return "", err
	}

	resp, err := s.engine.Context(s.ctx, req)
	if err != nil {
		return "", err
	}
	if resp.Text == "" {
		return "No relevant review history.", nil
	}
	return resp.Text, nil
}

// execLearn stores a review under the open session, if any.
func (s *Server) execLearn(raw json.RawMessage) (string, error) {
	var req engine.LearnRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.engine.Learn(s.ctx, s.session, req)
	if err != nil {
		return "", err
	}
	return formatJSON(resp)
}

func (s *Server) execSessionStart(raw json.RawMessage) (string, error) {
	var args struct {
		Ref     string `json:"ref"`
		Project string `json:"project"`
		Commit  string `json:"commit"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Ref) == "" {
		args.Ref = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Active() {
		if _, err := s.engine.Tracker().EndSession(s.ctx, s.session); err != nil {
			return "", fmt.Errorf("failed to end previous session: %w", err)
		}
	}
	s.session = nil

	session, err := s.engine.StartSession(s.ctx, args.Ref, args.Project, args.Commit)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "Learning is disabled; no session started.", nil
	}
	s.session = session
	return fmt.Sprintf("Started session #%d (ref: %s)", session.ID, session.Ref), nil
}

func (s *Server) execSessionEnd() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Active() {
		return "No active session.", nil
	}
	id := s.session.ID
	pairs, err := s.engine.Tracker().EndSession(s.ctx, s.session)
	if err != nil {
		return "", err
	}
	s.session = nil
	return fmt.Sprintf("Ended session #%d: %d concept pairs reinforced", id, pairs), nil
}

func (s *Server) execSessionStats(raw json.RawMessage) (string, error) {
	var args struct {
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", err
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}

	stats, err := s.engine.Tracker().SessionStats(s.ctx, args.Limit)
	if err != nil {
		return "", err
	}
	if len(stats) == 0 {
		return "No learning sessions recorded.", nil
	}
	return formatJSON(stats)
}

func formatJSON(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func errorResponse(id interface{}, code int, message string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &MCPError{Code: code, Message: message},
	}
}

// sendResponse writes a JSON-RPC response line.
func (s *Server) sendResponse(resp *MCPResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		return
	}

	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintln(s.out, string(data))
}

// sendError writes a parse error response.
func (s *Server) sendError(err error) {
	s.logger.Debug("rejected request", zap.Error(err))
	s.sendResponse(errorResponse(nil, codeParseError, err.Error()))
}
