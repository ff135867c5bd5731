package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/passvault/internal/common"
	"github.com/dmitrijs2005/passvault/internal/cryptox"
	"github.com/dmitrijs2005/passvault/internal/server/models"
	"github.com/dmitrijs2005/passvault/internal/server/session"
)

const (
	cmdLogin            = "login"
	cmdRegister         = "register"
	cmdLogout           = "logout"
	cmdDisconnect       = "disconnect"
	cmdHelp             = "help"
	cmdSavePassword     = "save-password"
	cmdGeneratePassword = "generate-password"
	cmdGet              = "get"
	cmdUpdateEntry      = "update-entry"
	cmdRemoveAll        = "remove-all"
	cmdRemoveSpecific   = "remove-specific"
	cmdListCategory     = "list-category"
	cmdListVaults       = "list-vaults"
	cmdConfirm          = "confirm"
)

type access int

const (
	anyState access = iota
	anonymousOnly
	authenticatedOnly
)

type call struct {
	sess      *session.Session
	name      string
	params    []string
	confirmed bool
}

func (c *call) user() string {
	u, _ := c.sess.User()
	return u
}

// category reads the optional category parameter at index i.
func (c *call) category(i int) (models.Category, error) {
	if i >= len(c.params) {
		return models.CategoryDefault, nil
	}
	cat, err := models.ParseCategory(c.params[i])
	if err != nil {
		return "", reply(err, "Invalid category '%s'. Allowed categories: %s", c.params[i], models.CategoryList())
	}
	return cat, nil
}

type outcome struct {
	text string
	// audit replaces text in the audit record when text carries secrets.
	audit string
	// actor names the user for the audit record when the session has none.
	actor string
	close bool
}

type command struct {
	name   string
	usage  string
	help   string
	min    int
	max    int
	access access
	run    func(d *Dispatcher, ctx context.Context, c *call) (outcome, error)
}

func (c *command) signature() string {
	if c.usage == "" {
		return c.name
	}
	return c.name + " " + c.usage
}

var commandTable = []*command{
	{name: cmdLogin, usage: "<user> <password>", help: "Log in to your account", min: 2, max: 2, access: anonymousOnly, run: (*Dispatcher).login},
	{name: cmdRegister, usage: "<user> <password> <confirm-password>", help: "Create a new account", min: 3, max: 3, access: anonymousOnly, run: (*Dispatcher).register},
	{name: cmdLogout, help: "Log out of the current account", access: anyState, run: (*Dispatcher).logout},
	{name: cmdDisconnect, help: "Close the connection", access: anyState, run: (*Dispatcher).disconnect},
	{name: cmdHelp, help: "Show this list", access: anyState, run: (*Dispatcher).help},
	{name: cmdSavePassword, usage: "<site> <username> <password> [category]", help: "Save a password", min: 3, max: 4, access: authenticatedOnly, run: (*Dispatcher).savePassword},
	{name: cmdGeneratePassword, usage: "<site> <username> [category]", help: "Generate and save a strong password", min: 2, max: 3, access: authenticatedOnly, run: (*Dispatcher).generatePassword},
	{name: cmdGet, usage: "<subject|secret|both> <site> [category]", help: "Show stored credentials", min: 2, max: 3, access: authenticatedOnly, run: (*Dispatcher).get},
	{name: cmdUpdateEntry, usage: "<site> <username> <new-password> <category>", help: "Change a stored password", min: 4, max: 4, access: authenticatedOnly, run: (*Dispatcher).updateEntry},
	{name: cmdRemoveAll, usage: "<site>", help: "Remove a site from every vault", min: 1, max: 1, access: authenticatedOnly, run: (*Dispatcher).removeAll},
	{name: cmdRemoveSpecific, usage: "<site> <username> <category>", help: "Remove one entry", min: 3, max: 3, access: authenticatedOnly, run: (*Dispatcher).removeSpecific},
	{name: cmdListCategory, usage: "<category>", help: "List the sites stored in a vault", min: 1, max: 1, access: authenticatedOnly, run: (*Dispatcher).listCategory},
	{name: cmdListVaults, help: "List your vaults", access: authenticatedOnly, run: (*Dispatcher).listVaults},
	{name: cmdConfirm, help: "Store a password the safety check flagged", access: authenticatedOnly, run: (*Dispatcher).confirm},
}

func (d *Dispatcher) login(ctx context.Context, c *call) (outcome, error) {
	user, password := c.params[0], c.params[1]
	if err := d.accounts.Authenticate(ctx, user, password); err != nil {
		return outcome{}, err
	}
	if err := c.sess.Login(user); err != nil {
		return outcome{}, err
	}
	return outcome{text: fmt.Sprintf("You have successfully logged in! Welcome, %s!", user)}, nil
}

func (d *Dispatcher) register(ctx context.Context, c *call) (outcome, error) {
	user, password, confirm := c.params[0], c.params[1], c.params[2]
	if password != confirm {
		return outcome{}, reply(common.ErrValidation, "<password> and <confirm-password> do not match!")
	}
	if err := d.accounts.RegisterAccount(ctx, user, password); err != nil {
		if errors.Is(err, common.ErrConflict) {
			return outcome{}, reply(err, "User %s already exists!", user)
		}
		return outcome{}, err
	}
	if err := c.sess.Login(user); err != nil {
		return outcome{}, err
	}
	return outcome{text: fmt.Sprintf("Registration successful! Welcome aboard, %s!", user)}, nil
}

func (d *Dispatcher) logout(ctx context.Context, c *call) (outcome, error) {
	user, ok := c.sess.Logout()
	if !ok {
		return outcome{text: "You are not logged in."}, nil
	}
	return outcome{text: fmt.Sprintf("User %s has logged out!", user), actor: user}, nil
}

func (d *Dispatcher) disconnect(ctx context.Context, c *call) (outcome, error) {
	user := c.user()
	c.sess.Close()
	return outcome{text: "Goodbye!", actor: user, close: true}, nil
}

func (d *Dispatcher) help(ctx context.Context, c *call) (outcome, error) {
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, cmd := range d.table {
		fmt.Fprintf(&b, "\n  %s - %s", cmd.signature(), cmd.help)
	}
	fmt.Fprintf(&b, "\nCategories: %s", models.CategoryList())
	return outcome{text: b.String(), audit: "help listed"}, nil
}

func (d *Dispatcher) savePassword(ctx context.Context, c *call) (outcome, error) {
	site, subject, secret := c.params[0], c.params[1], c.params[2]
	cat, err := c.category(3)
	if err != nil {
		return outcome{}, err
	}
	if err := d.screen(ctx, c, secret); err != nil {
		return outcome{}, err
	}
	if err := d.vaults.SaveEntry(ctx, c.user(), cat, site, subject, secret); err != nil {
		return outcome{}, err
	}
	return outcome{text: fmt.Sprintf("Password for %s saved successfully in %s vault.", site, cat)}, nil
}

func (d *Dispatcher) generatePassword(ctx context.Context, c *call) (outcome, error) {
	site, subject := c.params[0], c.params[1]
	cat, err := c.category(2)
	if err != nil {
		return outcome{}, err
	}
	secret, err := cryptox.GeneratePassword(d.passwordLength)
	if err != nil {
		return outcome{}, err
	}
	if err := d.vaults.SaveEntry(ctx, c.user(), cat, site, subject, secret); err != nil {
		return outcome{}, err
	}
	return outcome{text: fmt.Sprintf("Generated and saved a strong password for %s.", site)}, nil
}

// credentialView keeps "username" before "password" in the reply.
type credentialView struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

func (d *Dispatcher) get(ctx context.Context, c *call) (outcome, error) {
	field, err := models.ParseField(c.params[0])
	if err != nil {
		return outcome{}, reply(err, "Wrong field type, expected: subject/secret/both")
	}
	site := c.params[1]
	cat, err := c.category(2)
	if err != nil {
		return outcome{}, err
	}

	cred, err := d.vaults.GetEntry(ctx, c.user(), cat, site, field)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return outcome{}, reply(err, "No credentials found for %s in category '%s'.", site, cat)
		}
		return outcome{}, err
	}

	view, err := json.Marshal(credentialView{Username: cred.Subject, Password: cred.Secret})
	if err != nil {
		return outcome{}, err
	}
	return outcome{
		text:  fmt.Sprintf("Extracted credentials for %s: %s", site, view),
		audit: fmt.Sprintf("Extracted credentials for %s (%s) from %s vault.", site, field, cat),
	}, nil
}

func (d *Dispatcher) updateEntry(ctx context.Context, c *call) (outcome, error) {
	site, subject, secret := c.params[0], c.params[1], c.params[2]
	cat, err := c.category(3)
	if err != nil {
		return outcome{}, err
	}
	if err := d.screen(ctx, c, secret); err != nil {
		return outcome{}, err
	}

	err = d.vaults.UpdateEntry(ctx, c.user(), cat, site, subject, secret)
	switch {
	case errors.Is(err, common.ErrConflict):
		return outcome{}, reply(err, "No matching username '%s' found for '%s' in '%s'.", subject, site, cat)
	case errors.Is(err, common.ErrNotFound):
		return outcome{}, reply(err, "No entry found for '%s' in '%s'.", site, cat)
	case err != nil:
		return outcome{}, err
	}
	return outcome{text: fmt.Sprintf("Successfully updated password for '%s' under '%s' in '%s'.", subject, site, cat)}, nil
}

func (d *Dispatcher) removeAll(ctx context.Context, c *call) (outcome, error) {
	site := c.params[0]
	n, err := d.vaults.RemoveEntryEverywhere(ctx, c.user(), site)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return outcome{}, reply(err, "No entries found for '%s' in any vault.", site)
		}
		return outcome{}, err
	}
	return outcome{text: fmt.Sprintf("Successfully removed all entries for '%s' from %d vault(s).", site, n)}, nil
}

func (d *Dispatcher) removeSpecific(ctx context.Context, c *call) (outcome, error) {
	site, subject := c.params[0], c.params[1]
	cat, err := c.category(2)
	if err != nil {
		return outcome{}, err
	}
	if err := d.vaults.RemoveEntry(ctx, c.user(), cat, site, subject); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return outcome{}, reply(err, "No matching entry found for '%s' with username '%s' in '%s'.", site, subject, cat)
		}
		return outcome{}, err
	}
	return outcome{text: fmt.Sprintf("Successfully removed entry for '%s' with username '%s' from '%s'.", site, subject, cat)}, nil
}

func (d *Dispatcher) listCategory(ctx context.Context, c *call) (outcome, error) {
	cat, err := c.category(0)
	if err != nil {
		return outcome{}, err
	}
	keys, err := d.vaults.ListKeys(ctx, c.user(), cat)
	switch {
	case errors.Is(err, common.ErrEmptyVault):
		return outcome{}, reply(err, "No credentials stored in category: %s", cat)
	case errors.Is(err, common.ErrNotFound):
		return outcome{}, reply(err, "No vault found for category: %s", cat)
	case err != nil:
		return outcome{}, err
	}
	return outcome{text: fmt.Sprintf("Stored URLs in %s: %s", cat, strings.Join(keys, ", "))}, nil
}

func (d *Dispatcher) listVaults(ctx context.Context, c *call) (outcome, error) {
	user := c.user()
	cats, err := d.vaults.ListVaults(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return outcome{}, reply(err, "User '%s' has no saved vaults.", user)
		}
		return outcome{}, err
	}
	names := make([]string, len(cats))
	for i, cat := range cats {
		names[i] = string(cat)
	}
	return outcome{text: "Available vaults: " + strings.Join(names, ", ")}, nil
}

func (d *Dispatcher) confirm(ctx context.Context, c *call) (outcome, error) {
	p, ok := c.sess.TakePending()
	if !ok {
		return outcome{}, reply(common.ErrValidation, "Nothing to confirm.")
	}
	cmd, ok := d.commands[p.Command]
	if !ok {
		return outcome{}, fmt.Errorf("pending command %q is not registered", p.Command)
	}
	return cmd.run(d, ctx, &call{sess: c.sess, name: cmd.name, params: p.Params, confirmed: true})
}

// screen asks the safety checker about secret. When the secret is unsafe or
// cannot be verified, the call is parked on the session for "confirm".
func (d *Dispatcher) screen(ctx context.Context, c *call, secret string) error {
	if d.checker == nil || c.confirmed {
		return nil
	}

	var reason string
	verdict, err := d.checker.Check(ctx, secret)
	switch {
	case err != nil:
		d.log.Warn(ctx, "password safety could not be verified", "session_id", c.sess.ID(), "kind", common.Kind(err), "error", err)
		reason = "The password could not be checked for breaches (" + detail(err) + ")."
	case !verdict.Safe:
		reason = verdict.Reason
		if reason == "" {
			reason = "This password is not safe."
		}
	default:
		return nil
	}

	c.sess.SetPending(session.Pending{Command: c.name, Params: c.params})
	return reply(errHeld, "%s Send \"confirm\" to save it anyway.", reason)
}
