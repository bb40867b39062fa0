// Package nsctest provides an in-process stand-in for the nsc tool. It keeps
// operator, account and user state in memory and writes the same token and
// creds file layout the real tool does, so the driver's read paths see real
// files.
package nsctest

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/nsc"
	"github.com/golang-jwt/jwt/v5"
)

type account struct {
	id          string
	revocations map[string]int64
	users       map[string]*user
}

type user struct {
	id  string
	pub nsc.Permission
	sub nsc.Permission
}

type failure struct {
	prefix []string
	stderr string
	times  int // <= 0 means until cleared
}

// Tool implements nsc.Runner.
type Tool struct {
	mu sync.Mutex

	dir              string
	operator         string
	operatorID       string
	serverURL        string
	selected         string
	accounts         map[string]*account
	calls            [][]string
	failures         []*failure
	pushes           map[string]int
	resolverRemovals map[string]int
}

// New returns a tool whose store lives in dir.
func New(dir string) *Tool {
	return &Tool{
		dir:              dir,
		accounts:         map[string]*account{},
		pushes:           map[string]int{},
		resolverRemovals: map[string]int{},
	}
}

// FailOn makes every command starting with prefix fail with stderr until
// ClearFailures is called.
func (t *Tool) FailOn(stderr string, prefix ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, &failure{prefix: prefix, stderr: stderr})
}

// FailOnce makes the next command starting with prefix fail with stderr.
func (t *Tool) FailOnce(stderr string, prefix ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, &failure{prefix: prefix, stderr: stderr, times: 1})
}

// ClearFailures removes all injected failures.
func (t *Tool) ClearFailures() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = nil
}

// Calls returns every invocation so far, without the trailing --all-dirs.
func (t *Tool) Calls() [][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.calls)
}

// CountCalls returns how many invocations started with prefix.
func (t *Tool) CountCalls(prefix ...string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		if hasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Pushes returns how many times the account was pushed to the resolver.
func (t *Tool) Pushes(accountName string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pushes[accountName]
}

// ResolverRemovals returns how many times the account was removed from the
// resolver.
func (t *Tool) ResolverRemovals(accountName string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolverRemovals[accountName]
}

// Revoked reports whether userID is on the account's revocation list.
func (t *Tool) Revoked(accountName, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	acc, ok := t.accounts[accountName]
	if !ok {
		return false
	}
	_, ok = acc.revocations[userID]
	return ok
}

// ServerURL returns the operator's account token server URL.
func (t *Tool) ServerURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.serverURL
}

// Run implements nsc.Runner.
func (t *Tool) Run(ctx context.Context, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	args = stripAllDirs(args)
	t.calls = append(t.calls, args)

	if stderr, ok := t.injectedFailure(args); ok {
		return "", toolError(args, stderr)
	}

	if err := t.dispatch(args); err != nil {
		return "", err
	}
	return "", nil
}

func (t *Tool) injectedFailure(args []string) (string, bool) {
	for i, f := range t.failures {
		if !hasPrefix(args, f.prefix) {
			continue
		}
		if f.times > 0 {
			f.times--
			if f.times == 0 {
				t.failures = append(t.failures[:i], t.failures[i+1:]...)
			}
		}
		return f.stderr, true
	}
	return "", false
}

func (t *Tool) dispatch(args []string) error {
	if len(args) < 2 {
		return toolError(args, "unknown command")
	}
	verb, noun := args[0], args[1]

	switch {
	case verb == "select" && noun == "operator":
		if t.operator == "" || args[2] != t.operator {
			return toolError(args, fmt.Sprintf("operator %q not in store", args[2]))
		}
		t.selected = args[2]
		return nil
	case verb == "add" && noun == "operator":
		return t.addOperator(args)
	case verb == "edit" && noun == "operator":
		t.serverURL = flagValue(args, "--account-jwt-server-url")
		return t.writeOperator()
	case verb == "add" && noun == "account":
		return t.addAccount(args)
	case verb == "edit" && noun == "account":
		name := flagValue(args, "--name")
		if _, ok := t.accounts[name]; !ok {
			return toolError(args, fmt.Sprintf("account %q not found", name))
		}
		return nil
	case verb == "describe" && noun == "account":
		if _, ok := t.accounts[args[2]]; !ok {
			return toolError(args, fmt.Sprintf("account %q not found", args[2]))
		}
		return nil
	case verb == "delete" && noun == "account":
		return t.deleteAccount(args)
	case verb == "push":
		return t.push(args)
	case verb == "add" && noun == "user":
		return t.addUser(args)
	case verb == "describe" && noun == "user":
		if t.findUser(flagValue(args, "--account"), args[2]) == nil {
			return toolError(args, fmt.Sprintf("user %q not found", args[2]))
		}
		return nil
	case verb == "edit" && noun == "user":
		return t.editUser(args)
	case verb == "delete" && noun == "user":
		return t.deleteUser(args)
	case verb == "revocations":
		return t.revocations(args)
	}
	return toolError(args, "unknown command")
}

func (t *Tool) addOperator(args []string) error {
	if t.operator != "" {
		return toolError(args, "operator already exists")
	}
	t.operator = args[2]
	t.operatorID = newKey("O")
	if err := t.newAccount(common.SystemAccountName); err != nil {
		return err
	}
	if err := t.newUser(common.SystemAccountName, common.SystemUserName); err != nil {
		return err
	}
	return t.writeOperator()
}

func (t *Tool) addAccount(args []string) error {
	name := args[2]
	if _, ok := t.accounts[name]; ok {
		return toolError(args, fmt.Sprintf("account %q already exists", name))
	}
	return t.newAccount(name)
}

func (t *Tool) newAccount(name string) error {
	acc := &account{id: newKey("A"), revocations: map[string]int64{}, users: map[string]*user{}}
	t.accounts[name] = acc
	return t.writeAccount(name)
}

func (t *Tool) deleteAccount(args []string) error {
	name := args[2]
	if _, ok := t.accounts[name]; !ok {
		return toolError(args, fmt.Sprintf("account %q not found", name))
	}
	delete(t.accounts, name)
	if err := os.RemoveAll(filepath.Join(t.dir, t.operator, "accounts", name)); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(t.dir, "creds", t.operator, name))
}

func (t *Tool) push(args []string) error {
	if len(args) < 3 {
		return toolError(args, "push needs an account")
	}
	name := args[2]
	if _, ok := t.accounts[name]; !ok {
		return toolError(args, fmt.Sprintf("account %q not found", name))
	}
	switch args[1] {
	case "-a":
		t.pushes[name]++
	case "-R":
		t.resolverRemovals[name]++
	default:
		return toolError(args, "unknown push flag")
	}
	return nil
}

func (t *Tool) addUser(args []string) error {
	accountName := flagValue(args, "--account")
	if _, ok := t.accounts[accountName]; !ok {
		return toolError(args, fmt.Sprintf("account %q not found", accountName))
	}
	if t.findUser(accountName, args[2]) != nil {
		return toolError(args, fmt.Sprintf("user %q already exists", args[2]))
	}
	return t.newUser(accountName, args[2])
}

func (t *Tool) newUser(accountName, userName string) error {
	t.accounts[accountName].users[userName] = &user{id: newKey("U")}
	return t.writeUser(accountName, userName)
}

func (t *Tool) editUser(args []string) error {
	accountName := flagValue(args, "-a")
	u := t.findUser(accountName, args[2])
	if u == nil {
		return toolError(args, fmt.Sprintf("user %q not found", args[2]))
	}

	if rm := flagValue(args, "--rm"); rm != "" {
		drop := strings.Split(rm, ",")
		u.pub.Allow = without(u.pub.Allow, drop)
		u.pub.Deny = without(u.pub.Deny, drop)
		u.sub.Allow = without(u.sub.Allow, drop)
		u.sub.Deny = without(u.sub.Deny, drop)
	}
	if pub := flagValue(args, "--allow-pub"); pub != "" {
		u.pub.Allow = appendNew(u.pub.Allow, strings.Split(pub, ","))
	}
	if sub := flagValue(args, "--allow-sub"); sub != "" {
		u.sub.Allow = appendNew(u.sub.Allow, strings.Split(sub, ","))
	}
	if deny := flagValue(args, "--deny-pub"); deny != "" {
		u.pub.Deny = appendNew(u.pub.Deny, strings.Split(deny, ","))
	}
	return t.writeUser(accountName, args[2])
}

func (t *Tool) deleteUser(args []string) error {
	accountName := flagValue(args, "--account")
	u := t.findUser(accountName, args[2])
	if u == nil {
		return toolError(args, fmt.Sprintf("user %q not found", args[2]))
	}
	acc := t.accounts[accountName]
	delete(acc.users, args[2])
	if slices.Contains(args, "--revoke") {
		acc.revocations[u.id] = time.Now().Unix()
		if err := t.writeAccount(accountName); err != nil {
			return err
		}
	}
	if err := os.Remove(t.userPath(accountName, args[2])); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(t.credsPath(accountName, args[2])); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (t *Tool) revocations(args []string) error {
	accountName := flagValue(args, "--account")
	acc, ok := t.accounts[accountName]
	if !ok {
		return toolError(args, fmt.Sprintf("account %q not found", accountName))
	}
	key := flagValue(args, "--user-public-key")
	switch args[1] {
	case "add-user":
		acc.revocations[key] = time.Now().Unix()
	case "delete-user":
		if _, ok := acc.revocations[key]; !ok {
			return toolError(args, fmt.Sprintf("user %q is not revoked", key))
		}
		delete(acc.revocations, key)
	default:
		return toolError(args, "unknown revocations command")
	}
	return t.writeAccount(accountName)
}

func (t *Tool) findUser(accountName, userName string) *user {
	acc, ok := t.accounts[accountName]
	if !ok {
		return nil
	}
	return acc.users[userName]
}

func (t *Tool) writeOperator() error {
	claims := nsc.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: t.operatorID, Issuer: t.operatorID, IssuedAt: jwt.NewNumericDate(time.Now())},
		Name:             t.operator,
		Nats: nsc.NatsClaims{
			Type:             "operator",
			Version:          2,
			SystemAccount:    t.accounts[common.SystemAccountName].id,
			AccountServerURL: t.serverURL,
		},
	}
	return WriteToken(filepath.Join(t.dir, t.operator, t.operator+".jwt"), claims)
}

func (t *Tool) writeAccount(name string) error {
	acc := t.accounts[name]
	claims := nsc.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: acc.id, Issuer: t.operatorID, IssuedAt: jwt.NewNumericDate(time.Now())},
		Name:             name,
		Nats: nsc.NatsClaims{
			Type:        "account",
			Version:     2,
			Revocations: acc.revocations,
		},
	}
	return WriteToken(filepath.Join(t.dir, t.operator, "accounts", name, name+".jwt"), claims)
}

func (t *Tool) writeUser(accountName, userName string) error {
	acc := t.accounts[accountName]
	u := acc.users[userName]
	claims := nsc.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: u.id, Issuer: acc.id, IssuedAt: jwt.NewNumericDate(time.Now())},
		Name:             userName,
		Nats: nsc.NatsClaims{
			Type:    "user",
			Version: 2,
			Pub:     u.pub,
			Sub:     u.sub,
		},
	}
	if err := WriteToken(t.userPath(accountName, userName), claims); err != nil {
		return err
	}
	creds := fmt.Sprintf("-----BEGIN NATS USER JWT-----\n%s\n------END NATS USER JWT------\n", u.id)
	return writeFile(t.credsPath(accountName, userName), creds)
}

func (t *Tool) userPath(accountName, userName string) string {
	return filepath.Join(t.dir, t.operator, "accounts", accountName, "users", userName+".jwt")
}

func (t *Tool) credsPath(accountName, userName string) string {
	return filepath.Join(t.dir, "creds", t.operator, accountName, userName+".creds")
}

// WriteToken signs claims with a throwaway HMAC key and writes the token to
// path. Tests use it to plant tokens the tool would not produce.
func WriteToken(path string, claims nsc.Claims) error {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("nsctest"))
	if err != nil {
		return err
	}
	return writeFile(path, token+"\n")
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

func newKey(prefix string) string {
	b := make([]byte, 34)
	_, _ = rand.Read(b)
	return prefix + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)[:55]
}

func toolError(args []string, stderr string) error {
	return &common.ExternalToolError{Args: args, Stderr: stderr, Err: fmt.Errorf("exit status 1")}
}

func stripAllDirs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "--all-dirs" {
			i++
			continue
		}
		out = append(out, args[i])
	}
	return out
}

func flagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, name+"="); ok {
			return v
		}
	}
	return ""
}

func hasPrefix(args, prefix []string) bool {
	if len(prefix) > len(args) {
		return false
	}
	for i := range prefix {
		if args[i] != prefix[i] {
			return false
		}
	}
	return true
}

func without(list, drop []string) []string {
	var out []string
	for _, s := range list {
		if !slices.Contains(drop, s) {
			out = append(out, s)
		}
	}
	return out
}

func appendNew(list, add []string) []string {
	for _, s := range add {
		if !slices.Contains(list, s) {
			list = append(list, s)
		}
	}
	return list
}
