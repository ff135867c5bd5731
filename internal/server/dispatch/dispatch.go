// Package dispatch routes decoded commands to their handlers. For every
// command it checks, in order, that the name is known, that the session state
// allows it and that the parameter count matches, and only then runs the
// handler. Handler errors become status-false responses; nothing a client
// sends can end the connection except "disconnect".
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/passvault/internal/common"
	"github.com/dmitrijs2005/passvault/internal/logging"
	"github.com/dmitrijs2005/passvault/internal/server/audit"
	"github.com/dmitrijs2005/passvault/internal/server/metrics"
	"github.com/dmitrijs2005/passvault/internal/server/models"
	"github.com/dmitrijs2005/passvault/internal/server/protocol"
	"github.com/dmitrijs2005/passvault/internal/server/safety"
	"github.com/dmitrijs2005/passvault/internal/server/session"
)

// Accounts is the part of services.UserService the dispatcher uses.
type Accounts interface {
	RegisterAccount(ctx context.Context, user, password string) error
	Authenticate(ctx context.Context, user, password string) error
}

// Vaults is the part of services.VaultService the dispatcher uses.
type Vaults interface {
	SaveEntry(ctx context.Context, user string, category models.Category, key, subject, secret string) error
	GetEntry(ctx context.Context, user string, category models.Category, key string, field models.Field) (models.Credential, error)
	UpdateEntry(ctx context.Context, user string, category models.Category, key, subject, newSecret string) error
	RemoveEntry(ctx context.Context, user string, category models.Category, key, subject string) error
	RemoveEntryEverywhere(ctx context.Context, user, key string) (int, error)
	ListKeys(ctx context.Context, user string, category models.Category) ([]string, error)
	ListVaults(ctx context.Context, user string) ([]models.Category, error)
}

type Options struct {
	Accounts Accounts
	Vaults   Vaults
	// Checker screens secrets before save-password and update-entry. Nil
	// disables the check.
	Checker safety.Checker
	Audit   audit.Recorder
	Metrics *metrics.Metrics
	Logger  logging.Logger
	// PasswordLength is used by generate-password.
	PasswordLength int
}

type Dispatcher struct {
	accounts       Accounts
	vaults         Vaults
	checker        safety.Checker
	audit          audit.Recorder
	metrics        *metrics.Metrics
	log            logging.Logger
	passwordLength int
	table          []*command
	commands       map[string]*command
}

func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		accounts:       opts.Accounts,
		vaults:         opts.Vaults,
		checker:        opts.Checker,
		audit:          opts.Audit,
		metrics:        opts.Metrics,
		log:            opts.Logger,
		passwordLength: opts.PasswordLength,
	}
	if d.audit == nil {
		d.audit = audit.Nop{}
	}
	if d.log == nil {
		d.log = logging.Nop()
	}
	d.log = d.log.With("module", "dispatch")

	d.table = commandTable
	d.commands = make(map[string]*command, len(d.table))
	for _, c := range d.table {
		d.commands[c.name] = c
	}
	return d
}

// Result is the outcome of one dispatched command.
type Result struct {
	Response protocol.Response
	// Close asks the connection handler to hang up after writing Response.
	Close bool
}

// Dispatch runs one command for sess.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, cmd protocol.Command) Result {
	start := time.Now()

	c, ok := d.commands[cmd.Type]
	if !ok {
		sess.ClearPending()
		err := reply(common.ErrProtocol, "Unknown command '%s'. Send \"help\" to list the available commands.", cmd.Type)
		return d.finish(ctx, sess, "unknown", cmd.Parameters, start, outcome{}, err)
	}
	if c.name != cmdConfirm {
		sess.ClearPending()
	}

	if err := d.permitted(sess, c); err != nil {
		return d.finish(ctx, sess, c.name, cmd.Parameters, start, outcome{}, err)
	}

	if n := len(cmd.Parameters); n < c.min || n > c.max {
		err := reply(common.ErrValidation, "Wrong number of parameters, expected: %s", c.signature())
		return d.finish(ctx, sess, c.name, cmd.Parameters, start, outcome{}, err)
	}

	out, err := c.run(d, ctx, &call{sess: sess, name: c.name, params: cmd.Parameters})
	return d.finish(ctx, sess, c.name, cmd.Parameters, start, out, err)
}

// Reject answers a frame that could not be decoded into a command.
func (d *Dispatcher) Reject(ctx context.Context, sess *session.Session, err error) Result {
	sess.ClearPending()
	if !errors.Is(err, common.ErrProtocol) {
		err = fmt.Errorf("%w: %v", common.ErrProtocol, err)
	}
	return d.finish(ctx, sess, "invalid", nil, time.Now(), outcome{}, reply(err, "Malformed request. Send {\"commandType\": \"help\", \"parameters\": []} to list the available commands."))
}

func (d *Dispatcher) permitted(sess *session.Session, c *command) error {
	switch sess.State() {
	case session.Closed:
		return fmt.Errorf("%w: session is closed", common.ErrProtocol)
	case session.Authenticated:
		if c.access == anonymousOnly {
			user, _ := sess.User()
			return reply(fmt.Errorf("%w: %w", common.ErrProtocol, common.ErrAlreadyLogged), "You are already logged in as %s. Log out first.", user)
		}
	case session.Anonymous:
		if c.access == authenticatedOnly {
			return common.ErrAuthRequired
		}
	}
	return nil
}

func (d *Dispatcher) finish(ctx context.Context, sess *session.Session, name string, params []string, start time.Time, out outcome, err error) Result {
	var resp protocol.Response
	if err != nil {
		resp = protocol.Fail("%s", describe(err))
	} else {
		resp = protocol.OK("%s", out.text)
	}
	elapsed := time.Since(start)

	user, _ := sess.User()
	if user == "" && out.actor != "" {
		user = out.actor
	}
	if user == "" && err != nil && (name == cmdLogin || name == cmdRegister) && len(params) > 0 {
		user = params[0]
	}

	msg := out.audit
	if msg == "" {
		msg = resp.Description
	}
	rec := audit.NewRecord(sess.ID(), user, name, err == nil, msg)
	if aerr := d.audit.Record(ctx, rec); aerr != nil {
		if errors.Is(aerr, audit.ErrDropped) {
			d.metrics.AuditRecordDropped()
		}
		d.log.Warn(ctx, "audit record not stored", "session_id", sess.ID(), "error", aerr)
	}

	d.metrics.ObserveCommand(name, err == nil, elapsed)

	args := []any{"session_id", sess.ID(), "command", name, "user", user, "status", err == nil, "duration", elapsed}
	switch kind := kindOf(err); kind {
	case "":
		d.log.Info(ctx, "command handled", args...)
	case "storage_corrupted", "io_failure", "crypto_failure", "internal":
		d.log.Error(ctx, "command failed", append(args, "kind", kind, "error", err)...)
	default:
		d.log.Info(ctx, "command rejected", append(args, "kind", kind, "error", err)...)
	}

	return Result{Response: resp, Close: out.close}
}
