package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/dmitrijs2005/passvault/internal/common"
	"github.com/dmitrijs2005/passvault/internal/cryptox"
	"github.com/dmitrijs2005/passvault/internal/logging"
	"github.com/dmitrijs2005/passvault/internal/server/audit"
	"github.com/dmitrijs2005/passvault/internal/server/locks"
	"github.com/dmitrijs2005/passvault/internal/server/metrics"
	"github.com/dmitrijs2005/passvault/internal/server/protocol"
	"github.com/dmitrijs2005/passvault/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/passvault/internal/server/repositories/vaults"
	"github.com/dmitrijs2005/passvault/internal/server/safety"
	"github.com/dmitrijs2005/passvault/internal/server/services"
	"github.com/dmitrijs2005/passvault/internal/server/session"
	"github.com/dmitrijs2005/passvault/internal/server/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type captureRecorder struct {
	mu      sync.Mutex
	records []audit.Record
	err     error
}

func (r *captureRecorder) Record(_ context.Context, rec audit.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

func (r *captureRecorder) last() audit.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[len(r.records)-1]
}

type harness struct {
	d       *Dispatcher
	vaults  *services.VaultService
	audit   *captureRecorder
	metrics *metrics.Metrics
	checks  int
}

func newHarness(t *testing.T, checker safety.Checker) *harness {
	t.Helper()
	backend := storage.NewMemoryBackend()
	lt := locks.New()
	keys := &cryptox.KeyDeriver{Pepper: []byte("test-pepper"), Time: 1, Memory: 1024, Threads: 1}

	vs := services.NewVaultService(vaults.NewStorageRepository(backend), lt, keys, logging.Nop())
	us, err := services.NewUserService(accounts.NewStorageRepository(backend), vs, lt, keys, bcrypt.MinCost, logging.Nop())
	require.NoError(t, err)

	h := &harness{vaults: vs, audit: &captureRecorder{}, metrics: metrics.New()}
	if checker != nil {
		inner := checker
		checker = safety.CheckerFunc(func(ctx context.Context, secret string) (safety.Verdict, error) {
			h.checks++
			return inner.Check(ctx, secret)
		})
	}
	h.d = New(Options{
		Accounts:       us,
		Vaults:         vs,
		Checker:        checker,
		Audit:          h.audit,
		Metrics:        h.metrics,
		PasswordLength: 20,
	})
	return h
}

func (h *harness) run(sess *session.Session, name string, params ...string) Result {
	if params == nil {
		params = []string{}
	}
	return h.d.Dispatch(context.Background(), sess, protocol.Command{Type: name, Parameters: params})
}

func ok(t *testing.T, res Result) string {
	t.Helper()
	require.True(t, res.Response.Status, res.Response.Description)
	return res.Response.Description
}

func fail(t *testing.T, res Result) string {
	t.Helper()
	require.False(t, res.Response.Status, res.Response.Description)
	return res.Response.Description
}

func registered(t *testing.T, h *harness, user string) *session.Session {
	t.Helper()
	sess := session.New("test")
	ok(t, h.run(sess, cmdRegister, user, "pw", "pw"))
	return sess
}

func TestRegisterLoginScenario(t *testing.T) {
	h := newHarness(t, nil)

	s1 := session.New("a")
	assert.Equal(t, "Registration successful! Welcome aboard, alice!", ok(t, h.run(s1, cmdRegister, "alice", "p1", "p1")))
	user, _ := s1.User()
	assert.Equal(t, "alice", user, "register logs the new user in")

	s2 := session.New("b")
	assert.Equal(t, "User alice already exists!", fail(t, h.run(s2, cmdRegister, "alice", "p2", "p2")))
	assert.Equal(t, "You have successfully logged in! Welcome, alice!", ok(t, h.run(s2, cmdLogin, "alice", "p1")))

	s3 := session.New("c")
	assert.Equal(t, "Wrong username or password, please try again!", fail(t, h.run(s3, cmdLogin, "alice", "wrong")))
	assert.Equal(t, "Wrong username or password, please try again!", fail(t, h.run(s3, cmdLogin, "nobody", "p1")))
	assert.Equal(t, session.Anonymous, s3.State())
}

func TestRegister_PasswordMismatch(t *testing.T) {
	h := newHarness(t, nil)
	sess := session.New("a")

	assert.Equal(t, "<password> and <confirm-password> do not match!", fail(t, h.run(sess, cmdRegister, "alice", "a", "b")))
	assert.Equal(t, session.Anonymous, sess.State())
}

func TestSaveGetUpdateScenario(t *testing.T) {
	h := newHarness(t, nil)
	sess := registered(t, h, "alice")

	assert.Equal(t, "Password for site.com saved successfully in default vault.",
		ok(t, h.run(sess, cmdSavePassword, "site.com", "bob", "secret1")))

	got := ok(t, h.run(sess, cmdGet, "secret", "site.com"))
	assert.Equal(t, `Extracted credentials for site.com: {"password":"secret1"}`, got)

	assert.Equal(t, "Successfully updated password for 'bob' under 'site.com' in 'default'.",
		ok(t, h.run(sess, cmdUpdateEntry, "site.com", "bob", "secret2", "default")))
	got = ok(t, h.run(sess, cmdGet, "both", "site.com"))
	assert.Equal(t, `Extracted credentials for site.com: {"username":"bob","password":"secret2"}`, got)

	assert.Equal(t, "No matching username 'carol' found for 'site.com' in 'default'.",
		fail(t, h.run(sess, cmdUpdateEntry, "site.com", "carol", "secret3", "default")))
	got = ok(t, h.run(sess, cmdGet, "user", "site.com"))
	assert.Equal(t, `Extracted credentials for site.com: {"username":"bob"}`, got)
}

func TestGet_AuditIsRedacted(t *testing.T) {
	h := newHarness(t, nil)
	sess := registered(t, h, "alice")
	ok(t, h.run(sess, cmdSavePassword, "site.com", "bob", "topsecret", "work"))
	ok(t, h.run(sess, cmdGet, "both", "site.com", "work"))

	for _, rec := range h.audit.records {
		assert.NotContains(t, rec.Message, "topsecret", "command %s", rec.Command)
	}
	last := h.audit.last()
	assert.Equal(t, cmdGet, last.Command)
	assert.Equal(t, "alice", last.User)
	assert.True(t, last.Success)
	assert.Equal(t, "Extracted credentials for site.com (both) from work vault.", last.Message)
}

func TestGet_Failures(t *testing.T) {
	h := newHarness(t, nil)
	sess := registered(t, h, "alice")

	assert.Equal(t, "No credentials found for nope.com in category 'default'.", fail(t, h.run(sess, cmdGet, "both", "nope.com")))
	assert.Equal(t, "Wrong field type, expected: subject/secret/both", fail(t, h.run(sess, cmdGet, "pin", "nope.com")))
	assert.Contains(t, fail(t, h.run(sess, cmdGet, "both", "nope.com", "games")), "Invalid category 'games'")
}

func TestRemoveScenarios(t *testing.T) {
	h := newHarness(t, nil)
	sess := registered(t, h, "alice")

	assert.Equal(t, "No matching entry found for 'ghost.com' with username 'bob' in 'default'.",
		fail(t, h.run(sess, cmdRemoveSpecific, "ghost.com", "bob", "default")))

	ok(t, h.run(sess, cmdSavePassword, "site.com", "bob", "s1"))
	ok(t, h.run(sess, cmdSavePassword, "site.com", "bob", "s2", "work"))
	ok(t, h.run(sess, cmdSavePassword, "other.com", "bob", "s3", "work"))

	assert.Equal(t, "Successfully removed entry for 'other.com' with username 'bob' from 'work'.",
		ok(t, h.run(sess, cmdRemoveSpecific, "other.com", "bob", "work")))
	assert.Equal(t, "Successfully removed all entries for 'site.com' from 2 vault(s).",
		ok(t, h.run(sess, cmdRemoveAll, "site.com")))
	assert.Equal(t, "No entries found for 'site.com' in any vault.", fail(t, h.run(sess, cmdRemoveAll, "site.com")))
}

func TestListCommands(t *testing.T) {
	h := newHarness(t, nil)
	sess := registered(t, h, "alice")

	assert.Equal(t, "No credentials stored in category: default", fail(t, h.run(sess, cmdListCategory, "default")))
	assert.Equal(t, "No vault found for category: finance", fail(t, h.run(sess, cmdListCategory, "finance")))

	ok(t, h.run(sess, cmdSavePassword, "b.com", "bob", "s1"))
	ok(t, h.run(sess, cmdSavePassword, "a.com", "bob", "s1"))
	ok(t, h.run(sess, cmdSavePassword, "x.com", "bob", "s1", "email"))

	assert.Equal(t, "Stored URLs in default: b.com, a.com", ok(t, h.run(sess, cmdListCategory, "DEFAULT")))
	assert.Equal(t, "Available vaults: default, email", ok(t, h.run(sess, cmdListVaults)))

	ghost := session.New("g")
	require.NoError(t, ghost.Login("ghost"))
	assert.Equal(t, "User 'ghost' has no saved vaults.", fail(t, h.run(ghost, cmdListVaults)))
}

func TestGeneratePassword(t *testing.T) {
	h := newHarness(t, safety.CheckerFunc(func(context.Context, string) (safety.Verdict, error) {
		return safety.Verdict{}, errors.New("generated passwords are not screened")
	}))
	sess := registered(t, h, "alice")

	assert.Equal(t, "Generated and saved a strong password for site.com.", ok(t, h.run(sess, cmdGeneratePassword, "site.com", "bob", "social")))
	assert.Zero(t, h.checks)

	cred, err := h.vaults.GetEntry(context.Background(), "alice", "social", "site.com", "both")
	require.NoError(t, err)
	assert.Equal(t, "bob", cred.Subject)
	assert.Len(t, cred.Secret, 20)
	assert.NotContains(t, h.audit.last().Message, cred.Secret)
}

func TestErrorOrdering(t *testing.T) {
	h := newHarness(t, nil)
	anon := session.New("a")

	// an unknown name wins over the auth gate and arity
	assert.Equal(t, `Unknown command 'fly'. Send "help" to list the available commands.`, fail(t, h.run(anon, "fly", "x", "y", "z", "w", "v")))

	// the auth gate wins over arity
	assert.Equal(t, "Please log in or register first.", fail(t, h.run(anon, cmdSavePassword)))
	assert.Equal(t, "Please log in or register first.", fail(t, h.run(anon, cmdListVaults)))

	assert.Equal(t, "Wrong number of parameters, expected: login <user> <password>", fail(t, h.run(anon, cmdLogin, "alice")))
	assert.Equal(t, "Wrong number of parameters, expected: logout", fail(t, h.run(anon, cmdLogout, "now")))

	sess := registered(t, h, "alice")
	assert.Equal(t, "You are already logged in as alice. Log out first.", fail(t, h.run(sess, cmdLogin, "alice", "pw")))
	assert.Equal(t, "You are already logged in as alice. Log out first.", fail(t, h.run(sess, cmdRegister, "bob", "pw", "pw")))
	assert.Equal(t, "Wrong number of parameters, expected: save-password <site> <username> <password> [category]",
		fail(t, h.run(sess, cmdSavePassword, "a", "b", "c", "d", "e")))
}

func TestAnonymousCommands(t *testing.T) {
	h := newHarness(t, nil)
	sess := session.New("a")

	assert.Equal(t, "You are not logged in.", ok(t, h.run(sess, cmdLogout)))

	help := ok(t, h.run(sess, cmdHelp))
	for _, c := range commandTable {
		assert.Contains(t, help, c.signature())
	}

	res := h.run(sess, cmdDisconnect)
	assert.Equal(t, "Goodbye!", ok(t, res))
	assert.True(t, res.Close)
	assert.Equal(t, session.Closed, sess.State())

	assert.False(t, h.run(sess, cmdHelp).Response.Status, "a closed session accepts nothing")
}

func TestLogoutDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	sess := registered(t, h, "alice")

	assert.Equal(t, "User alice has logged out!", ok(t, h.run(sess, cmdLogout)))
	assert.Equal(t, "alice", h.audit.last().User)
	assert.Equal(t, session.Anonymous, sess.State())

	ok(t, h.run(sess, cmdLogin, "alice", "pw"))
	res := h.run(sess, cmdDisconnect)
	assert.True(t, res.Close)
	assert.Equal(t, "alice", h.audit.last().User)
}

func TestSafetyHold_Confirm(t *testing.T) {
	h := newHarness(t, safety.CheckerFunc(func(_ context.Context, secret string) (safety.Verdict, error) {
		if secret == "password" {
			return safety.Verdict{Safe: false, Exposures: 3, Reason: "This password has been exposed 3 times! Choose a stronger password."}, nil
		}
		return safety.Verdict{Safe: true}, nil
	}))
	sess := registered(t, h, "alice")

	ok(t, h.run(sess, cmdSavePassword, "good.com", "bob", "c0rrect-horse"))

	msg := fail(t, h.run(sess, cmdSavePassword, "site.com", "bob", "password", "work"))
	assert.Equal(t, `This password has been exposed 3 times! Choose a stronger password. Send "confirm" to save it anyway.`, msg)
	_, err := h.vaults.GetEntry(context.Background(), "alice", "work", "site.com", "both")
	require.ErrorIs(t, err, common.ErrNotFound, "a held secret is not persisted")

	checks := h.checks
	assert.Equal(t, "Password for site.com saved successfully in work vault.", ok(t, h.run(sess, cmdConfirm)))
	assert.Equal(t, checks, h.checks, "confirm does not re-check")

	cred, err := h.vaults.GetEntry(context.Background(), "alice", "work", "site.com", "both")
	require.NoError(t, err)
	assert.Equal(t, "password", cred.Secret)

	assert.Equal(t, "Nothing to confirm.", fail(t, h.run(sess, cmdConfirm)))
}

func TestSafetyHold_DiscardedByOtherCommand(t *testing.T) {
	h := newHarness(t, safety.CheckerFunc(func(context.Context, string) (safety.Verdict, error) {
		return safety.Verdict{Safe: false, Reason: "weak"}, nil
	}))
	sess := registered(t, h, "alice")
	require.NoError(t, h.vaults.SaveEntry(context.Background(), "alice", "email", "site.com", "bob", "s1"))

	fail(t, h.run(sess, cmdSavePassword, "site.com", "bob", "s2", "email"))
	ok(t, h.run(sess, cmdListVaults))
	assert.Equal(t, "Nothing to confirm.", fail(t, h.run(sess, cmdConfirm)))

	fail(t, h.run(sess, cmdUpdateEntry, "site.com", "bob", "s3", "email"))
	fail(t, h.run(sess, "bogus"))
	assert.Equal(t, "Nothing to confirm.", fail(t, h.run(sess, cmdConfirm)))

	cred, err := h.vaults.GetEntry(context.Background(), "alice", "email", "site.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "s1", cred.Secret, "discarded holds never reach storage")
}

func TestSafetyHold_Unverifiable(t *testing.T) {
	h := newHarness(t, safety.CheckerFunc(func(context.Context, string) (safety.Verdict, error) {
		return safety.Verdict{}, fmt.Errorf("%w: breach service rate limited", common.ErrDependencyUnavailable)
	}))
	sess := registered(t, h, "alice")

	require.NoError(t, h.vaults.SaveEntry(context.Background(), "alice", "default", "site.com", "bob", "s1"))
	msg := fail(t, h.run(sess, cmdUpdateEntry, "site.com", "bob", "s2", "default"))
	assert.True(t, strings.HasPrefix(msg, "The password could not be checked for breaches (Breach service rate limited)."), msg)
	assert.True(t, strings.HasSuffix(msg, `Send "confirm" to save it anyway.`), msg)

	assert.Equal(t, "Successfully updated password for 'bob' under 'site.com' in 'default'.", ok(t, h.run(sess, cmdConfirm)))
	cred, err := h.vaults.GetEntry(context.Background(), "alice", "default", "site.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "s2", cred.Secret)
}

func TestReject(t *testing.T) {
	h := newHarness(t, nil)
	sess := session.New("a")

	_, err := protocol.DecodeCommand([]byte(`{"commandType": 5}`))
	require.Error(t, err)

	res := h.d.Reject(context.Background(), sess, err)
	assert.False(t, res.Response.Status)
	assert.False(t, res.Close)
	assert.Contains(t, res.Response.Description, "Malformed request")
	assert.Equal(t, "invalid", h.audit.last().Command)
}

func TestAuditAndMetrics(t *testing.T) {
	h := newHarness(t, nil)
	h.audit.err = audit.ErrDropped
	sess := session.New("a")

	fail(t, h.run(sess, cmdLogin, "mallory", "guess"))
	rec := h.audit.last()
	assert.Equal(t, "mallory", rec.User)
	assert.Equal(t, cmdLogin, rec.Command)
	assert.False(t, rec.Success)
	assert.Equal(t, sess.ID(), rec.SessionID)
	assert.NotContains(t, rec.Message, "guess")

	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Commands.WithLabelValues(cmdLogin, "failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.AuditDropped), 0)
}
