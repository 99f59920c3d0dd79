package module

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"

	"github.com/tidwall/gjson"
)

// maxResponseBody caps how much of an HTTP response body Request reads.
const maxResponseBody = 1 << 20

// CommandError reports a command that ran but exited non-zero.
type CommandError struct {
	Cmd      string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited %d", e.Cmd, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// command builds the exec.Cmd for args. A single argument containing
// whitespace runs through sh -c.
func (p *Py3) command(ctx context.Context, args []string) (*exec.Cmd, string, error) {
	if len(args) == 0 {
		return nil, "", errors.New("empty command")
	}
	display := strings.Join(args, " ")
	if len(args) == 1 && strings.ContainsAny(args[0], " \t|;&<>$") {
		return exec.CommandContext(ctx, "sh", "-c", args[0]), display, nil
	}
	return exec.CommandContext(ctx, args[0], args[1:]...), display, nil
}

// CommandOutput runs a command and returns its trimmed stdout. The command
// is killed once the host's command timeout elapses.
func (p *Py3) CommandOutput(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.host.cmdTimeout)
	defer cancel()

	cmd, display, err := p.command(ctx, args)
	if err != nil {
		return "", err
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), &CommandError{
				Cmd:      display,
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}
		return "", fmt.Errorf("run %q: %w", display, err)
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

// CommandRun runs a command for its exit status, discarding output. A
// non-zero exit is reported through the returned code, not the error.
func (p *Py3) CommandRun(ctx context.Context, args ...string) (int, error) {
	_, err := p.CommandOutput(ctx, args...)
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode, nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

// CheckCommands returns the first of names found on PATH, or "".
func (p *Py3) CheckCommands(names ...string) string {
	for _, n := range names {
		if _, err := exec.LookPath(n); err == nil {
			return n
		}
	}
	return ""
}

// HTTPResponse is the buffered result of Request.
type HTTPResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *HTTPResponse) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Text returns the body as a string.
func (r *HTTPResponse) Text() string { return string(r.Body) }

// Get extracts a value from a JSON body by gjson path.
func (r *HTTPResponse) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// RequestOptions customizes Request.
type RequestOptions struct {
	Method  string
	Body    io.Reader
	Headers map[string]string
}

// Request performs an HTTP request with the host's shared client and
// buffers up to 1 MiB of the response body.
func (p *Py3) Request(ctx context.Context, url string, opts *RequestOptions) (*HTTPResponse, error) {
	method := http.MethodGet
	var body io.Reader
	if opts != nil {
		if opts.Method != "" {
			method = opts.Method
		}
		body = opts.Body
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	req.Header.Set("User-Agent", "barpulse")
	if opts != nil {
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}
	}
	resp, err := p.host.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return &HTTPResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
