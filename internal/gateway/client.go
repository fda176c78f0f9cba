// Copyright Contributors to the AgentRun project

package gateway

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Client speaks the line-delimited protocol from the submission side. The
// transport is any reader/writer pair: a spawned gateway's pipes in the CLI,
// in-memory pipes in tests.
type Client struct {
	enc     *json.Encoder
	scanner *bufio.Scanner
	nextID  int
}

// NewClient wraps a transport.
func NewClient(r io.Reader, w io.Writer) *Client {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Client{
		enc:     json.NewEncoder(w),
		scanner: scanner,
		nextID:  1,
	}
}

// call sends one request and waits for its response line.
func (c *Client) call(method string, params interface{}) (json.RawMessage, error) {
	id := json.RawMessage(fmt.Sprintf("%d", c.nextID))
	c.nextID++

	req := struct {
		JSONRPC string           `json:"jsonrpc"`
		ID      *json.RawMessage `json:"id"`
		Method  string           `json:"method"`
		Params  interface{}      `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: &id, Method: method, Params: params}

	if err := c.enc.Encode(req); err != nil {
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading %s response: %w", method, err)
		}
		return nil, fmt.Errorf("gateway closed the stream during %s", method)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("gateway error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

// Initialize performs the protocol handshake.
func (c *Client) Initialize() error {
	_, err := c.call("initialize", map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"clientInfo": map[string]interface{}{
			"name": "agentctl",
		},
	})
	return err
}

// CallTool invokes one tool and returns the first text content block.
func (c *Client) CallTool(name string, arguments interface{}) (string, error) {
	raw, err := c.call("tools/call", map[string]interface{}{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decoding tool result: %w", err)
	}
	for _, block := range result.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", nil
}
