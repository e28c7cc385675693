// Package salt drives salt-cloud, salt and salt-run for a stack's materialized
// workspace.
package salt

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stackdio/stackd/internal/model"
	"github.com/stackdio/stackd/internal/stack"
)

var tracer = otel.Tracer("stackd.salt")

// ErrAllNodesExist is returned by Launch when salt-cloud skipped the map
// because every node in it already exists.
var ErrAllNodesExist = errors.New("salt: all nodes already exist")

// CommandError is a salt command that exited non-zero with unusable output.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if len(out) > 512 {
		out = out[len(out)-512:]
	}
	return fmt.Sprintf("%s failed: %v: %s", e.Command, e.Err, out)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes a command in dir and returns its combined output.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// LogSink receives the output of every command run for a stack.
type LogSink interface {
	Put(ctx context.Context, slug, name string, data []byte) error
}

// Config names the salt binaries.
type Config struct {
	CloudBin string
	SaltBin  string
	RunBin   string
	Timeout  time.Duration
}

// Env is a stack's materialized working directory.
type Env struct {
	Dir  string
	Slug string
}

func (e Env) path(name string) string { return filepath.Join(e.Dir, name) }

// Client runs the fixed salt command set.
type Client struct {
	cfg    Config
	runner Runner
	logs   LogSink
	logger zerolog.Logger
}

// NewClient creates a Client. logs may be nil.
func NewClient(cfg Config, runner Runner, logs LogSink, logger zerolog.Logger) *Client {
	if cfg.CloudBin == "" {
		cfg.CloudBin = "salt-cloud"
	}
	if cfg.SaltBin == "" {
		cfg.SaltBin = "salt"
	}
	if cfg.RunBin == "" {
		cfg.RunBin = "salt-run"
	}
	return &Client{
		cfg:    cfg,
		runner: runner,
		logs:   logs,
		logger: logger.With().Str("component", "salt").Logger(),
	}
}

// run executes one command inside a span and ships its output to the stack
// log. The returned error is the raw process error; callers decide whether
// the output still carries a usable result.
func (c *Client) run(ctx context.Context, env Env, op, bin string, args ...string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "salt."+op, trace.WithAttributes(
		attribute.String("salt.command", bin),
		attribute.String("salt.env", env.Slug),
	))
	defer span.End()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	c.logger.Debug().Str("op", op).Str("stack", env.Slug).Strs("args", args).Msgf("executing %s", bin)
	start := time.Now()
	out, err := c.runner.Run(ctx, env.Dir, bin, args...)
	span.SetAttributes(attribute.Int64("salt.duration_ms", time.Since(start).Milliseconds()))

	if c.logs != nil {
		if lerr := c.logs.Put(ctx, env.Slug, op, out); lerr != nil {
			c.logger.Warn().Err(lerr).Str("stack", env.Slug).Str("op", op).Msg("failed to store command log")
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (c *Client) commandError(bin string, args []string, out []byte, err error) error {
	return &CommandError{Command: bin + " " + strings.Join(args, " "), Output: string(out), Err: err}
}

// Launch creates every node of the map file that does not exist yet.
func (c *Client) Launch(ctx context.Context, env Env, parallel bool) (*LaunchReport, error) {
	args := []string{"-y", "-m", env.path(stack.MapFile)}
	if parallel {
		args = append(args, "-P")
	}
	args = append(args, "--out=json")

	out, err := c.run(ctx, env, "launch", c.cfg.CloudBin, args...)
	report, perr := ParseLaunch(out)
	switch {
	case perr == nil && err == nil:
		return report, nil
	case perr == nil && len(report.Failed) > 0:
		// Per-node failures are reported to the caller, which decides
		// whether to retry.
		return report, nil
	case perr != nil && allNodesExist(out):
		return &LaunchReport{Failed: map[string]string{}}, ErrAllNodesExist
	case err != nil:
		return nil, c.commandError(c.cfg.CloudBin, args, out, err)
	default:
		return nil, perr
	}
}

// existingNodesMsg is how salt-cloud introduces the nodes of a map that
// already exist.
const existingNodesMsg = "The following virtual machines already exist"

// allNodesExist reports whether salt-cloud skipped the whole map because
// every node in it exists.
func allNodesExist(out []byte) bool {
	s := string(out)
	return strings.Contains(s, existingNodesMsg) && !strings.Contains(s, "set to be created")
}

// Query returns the live view of the map's nodes keyed by hostname. Nodes
// salt-cloud does not know about are absent.
func (c *Client) Query(ctx context.Context, env Env) (map[string]model.NodeInfo, error) {
	args := []string{"-m", env.path(stack.MapFile), "-Q", "--out=json"}
	out, err := c.run(ctx, env, "query", c.cfg.CloudBin, args...)
	if err != nil {
		return nil, c.commandError(c.cfg.CloudBin, args, out, err)
	}
	return ParseQuery(out)
}

// Destroy terminates the named nodes.
func (c *Client) Destroy(ctx context.Context, env Env, hostnames []string, parallel bool) error {
	if len(hostnames) == 0 {
		return nil
	}
	args := []string{"-y", "-d"}
	if parallel {
		args = append(args, "-P")
	}
	args = append(args, hostnames...)
	args = append(args, "--out=json")
	out, err := c.run(ctx, env, "destroy", c.cfg.CloudBin, args...)
	if err != nil {
		return c.commandError(c.cfg.CloudBin, args, out, err)
	}
	return nil
}

// Action runs a salt-cloud action (start, stop) against the named nodes.
func (c *Client) Action(ctx context.Context, env Env, action string, hostnames []string) error {
	if len(hostnames) == 0 {
		return nil
	}
	args := append([]string{"-y", "-a", action}, hostnames...)
	args = append(args, "--out=json")
	out, err := c.run(ctx, env, action, c.cfg.CloudBin, args...)
	if err != nil {
		return c.commandError(c.cfg.CloudBin, args, out, err)
	}
	return nil
}

// Ping reports which minions matching target answered. salt exits non-zero
// when a minion does not return, so the output is parsed regardless.
func (c *Client) Ping(ctx context.Context, env Env, target string) (map[string]bool, error) {
	args := []string{"-C", target, "test.ping", "--out=json", "--static"}
	out, err := c.run(ctx, env, "ping", c.cfg.SaltBin, args...)
	result, perr := ParsePing(out)
	if perr != nil {
		if err != nil {
			return nil, c.commandError(c.cfg.SaltBin, args, out, err)
		}
		return nil, perr
	}
	return result, nil
}

// SyncAll syncs custom modules to the minions matching target.
func (c *Client) SyncAll(ctx context.Context, env Env, target string) (*StateReport, error) {
	args := []string{"-C", target, "saltutil.sync_all", "--out=json", "--static"}
	out, err := c.run(ctx, env, "sync_all", c.cfg.SaltBin, args...)
	report, perr := ParseSync(out)
	if perr != nil {
		if err != nil {
			return nil, c.commandError(c.cfg.SaltBin, args, out, err)
		}
		return nil, perr
	}
	return report, nil
}

// Highstate applies the stack's top file to the minions matching target.
func (c *Client) Highstate(ctx context.Context, env Env, target string) (*StateReport, error) {
	args := []string{"-C", target, "state.highstate", "saltenv=" + env.Slug, "--out=json", "--static"}
	return c.state(ctx, env, "highstate", args)
}

// StateSLS applies one sls to the minions matching target.
func (c *Client) StateSLS(ctx context.Context, env Env, target, sls string) (*StateReport, error) {
	args := []string{"-C", target, "state.sls", sls, "saltenv=" + env.Slug, "--out=json", "--static"}
	return c.state(ctx, env, "state."+sls, args)
}

func (c *Client) state(ctx context.Context, env Env, op string, args []string) (*StateReport, error) {
	out, err := c.run(ctx, env, op, c.cfg.SaltBin, args...)
	report, perr := ParseState(out)
	if perr != nil {
		if err != nil {
			return nil, c.commandError(c.cfg.SaltBin, args, out, err)
		}
		return nil, perr
	}
	return report, nil
}

// Orchestrate runs an orchestrate sls of the stack's environment on the
// master.
func (c *Client) Orchestrate(ctx context.Context, env Env, sls string) (*StateReport, error) {
	args := []string{"state.orchestrate", sls, "saltenv=" + env.Slug, "--out=json"}
	out, err := c.run(ctx, env, "orchestrate", c.cfg.RunBin, args...)
	report, perr := ParseOrchestrate(out)
	if perr != nil {
		if err != nil {
			return nil, c.commandError(c.cfg.RunBin, args, out, err)
		}
		return nil, perr
	}
	return report, nil
}
