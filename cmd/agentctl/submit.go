// Copyright Contributors to the AgentRun project

package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/agentrun-io/agentrun/internal/gateway"
)

// submit spawns the gateway command, performs the handshake and invokes one
// tool over the subprocess pipes.
func submit(tool string, arguments interface{}) error {
	parts := strings.Fields(flagGatewayCommand)
	if len(parts) == 0 {
		return fmt.Errorf("empty gateway command")
	}

	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening gateway stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening gateway stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting gateway %q: %w", flagGatewayCommand, err)
	}

	client := gateway.NewClient(stdout, stdin)
	if err := client.Initialize(); err != nil {
		stdin.Close()
		cmd.Wait()
		return err
	}

	text, err := client.CallTool(tool, arguments)
	stdin.Close()
	waitErr := cmd.Wait()
	if err != nil {
		return err
	}
	if waitErr != nil {
		return fmt.Errorf("gateway exited: %w", waitErr)
	}

	fmt.Println(text)
	return nil
}

// parseEnv parses "key=val,key2=val2" into a map.
func parseEnv(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	env := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		key, val, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid env binding %q, want key=val", pair)
		}
		env[key] = val
	}
	return env, nil
}
