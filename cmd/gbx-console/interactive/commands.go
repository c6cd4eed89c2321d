package interactive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gbxremote/gbxremote-go/pkg/client"
	"github.com/gbxremote/gbxremote-go/pkg/xmlrpc"
)

func (c *Console) cmdVersion(ctx context.Context) error {
	var v client.Version
	err := c.do(ctx, func(cl *client.Client) error {
		var err error
		v, err = cl.GetVersion()
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Server: %s\n", v)
	if v.TitleID != "" {
		fmt.Fprintf(c.out, "  Title: %s\n", v.TitleID)
	}
	if v.APIVersion != "" {
		fmt.Fprintf(c.out, "  API:   %s\n", v.APIVersion)
	}
	return nil
}

func (c *Console) cmdStatus(ctx context.Context) error {
	var s client.Status
	err := c.do(ctx, func(cl *client.Client) error {
		var err error
		s, err = cl.GetStatus()
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Status: %s (%d)\n", s.Name, s.Code)
	return nil
}

func (c *Console) cmdChat(ctx context.Context, message string) error {
	if message == "" {
		return errors.New("usage: chat <message>")
	}
	return c.do(ctx, func(cl *client.Client) error {
		return cl.ChatSendServerMessage(message)
	})
}

func (c *Console) cmdPrivateMessage(ctx context.Context, rest string) error {
	login, message, _ := strings.Cut(rest, " ")
	message = strings.TrimSpace(message)
	if login == "" || message == "" {
		return errors.New("usage: pm <login> <message>")
	}
	return c.do(ctx, func(cl *client.Client) error {
		return cl.ChatSendServerMessageToLogin(message, login)
	})
}

func (c *Console) cmdCall(ctx context.Context, rest string) error {
	call, err := parseCall(rest)
	if err != nil {
		return err
	}

	var result xmlrpc.Value
	err = c.do(ctx, func(cl *client.Client) error {
		var err error
		result, err = cl.Query(call.Method, call.Params...)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s\n", result)
	return nil
}

func (c *Console) cmdMulticall(ctx context.Context, rest string) error {
	var calls []xmlrpc.Call
	for _, part := range strings.Split(rest, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		call, err := parseCall(part)
		if err != nil {
			return err
		}
		calls = append(calls, call)
	}
	if len(calls) == 0 {
		return errors.New("usage: multi <method> [args]; <method> [args]...")
	}

	var results []xmlrpc.Result
	err := c.do(ctx, func(cl *client.Client) error {
		var err error
		results, err = cl.Multicall(calls)
		return err
	})
	if err != nil {
		return err
	}

	for i, r := range results {
		if r.Fault != nil {
			fmt.Fprintf(c.out, "  [%d] %s: fault %d: %s\n", i, calls[i].Method, r.Fault.Code, r.Fault.Message)
			continue
		}
		fmt.Fprintf(c.out, "  [%d] %s: %s\n", i, calls[i].Method, r.Value)
	}
	return nil
}

func (c *Console) cmdCallbacks(arg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch strings.ToLower(arg) {
	case "":
		c.showCallbacks = !c.showCallbacks
	case "on":
		c.showCallbacks = true
	case "off":
		c.showCallbacks = false
	default:
		return errors.New("usage: callbacks [on|off]")
	}

	state := "off"
	if c.showCallbacks {
		state = "on"
	}
	fmt.Fprintf(c.out, "Callback display %s\n", state)
	return nil
}

func (c *Console) cmdLearned() error {
	if c.namer == nil {
		return errors.New("no callback namer configured")
	}
	if len(c.namer.Learned()) == 0 {
		fmt.Fprintln(c.out, "No callback parameters learned yet")
		return nil
	}
	data, err := c.namer.ExportYAML()
	if err != nil {
		return err
	}
	fmt.Fprint(c.out, string(data))
	return nil
}

func (c *Console) cmdTable(method string) {
	if c.namer == nil || c.namer.Table() == nil {
		fmt.Fprintln(c.out, "No callback table loaded")
		return
	}
	t := c.namer.Table()

	if method != "" {
		names, ok := t.Callbacks[method]
		if !ok {
			fmt.Fprintf(c.out, "%s is not in table %s\n", method, t.Version)
			return
		}
		printParams(c, method, names)
		return
	}

	fmt.Fprintf(c.out, "Table %s\n", t.Version)
	for _, m := range t.Methods() {
		printParams(c, m, t.Callbacks[m])
	}
}

func printParams(c *Console, method string, names []string) {
	parts := make([]string, len(names))
	for i, n := range names {
		if n == "" {
			n = "~"
		}
		parts[i] = n
	}
	fmt.Fprintf(c.out, "  %s(%s)\n", method, strings.Join(parts, ", "))
}

// parseCall splits "<method> [args]" where args is a YAML flow sequence
// without the surrounding brackets.
func parseCall(s string) (xmlrpc.Call, error) {
	s = strings.TrimSpace(s)
	method, rest, _ := strings.Cut(s, " ")
	if method == "" {
		return xmlrpc.Call{}, errors.New("method name required")
	}

	args, err := parseArgs(rest)
	if err != nil {
		return xmlrpc.Call{}, fmt.Errorf("%s: %w", method, err)
	}
	params, err := xmlrpc.FromNatives(args...)
	if err != nil {
		return xmlrpc.Call{}, fmt.Errorf("%s: %w", method, err)
	}
	return xmlrpc.NewCall(method, params...), nil
}

func parseArgs(s string) ([]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var args []any
	if err := yaml.Unmarshal([]byte("["+s+"]"), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return args, nil
}
