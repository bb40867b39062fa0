// Package nsc drives the external nsc tool that owns the on-disk credential
// store (operator, accounts, users) and reads the identity tokens it writes.
//
// Every exported mutating method holds the store's Global Lock for its whole
// duration. Composite operations call the unexported, unlocked helpers so the
// lock is never re-entered. Read paths (token decoding, creds files, server
// config rendering) take no lock.
package nsc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/logging"
)

const (
	locksDirName = "locks"
	ignoreFile   = ".gitignore"
)

// Driver is the Credential Store Driver: the sole writer of the store.
type Driver struct {
	dir      string
	operator string
	runner   Runner
	guard    *Guard
	logger   logging.Logger
}

// NewDriver returns a driver for the store at dir, owned by operator.
func NewDriver(dir, operator string, runner Runner, logger logging.Logger) *Driver {
	return &Driver{
		dir:      dir,
		operator: operator,
		runner:   runner,
		guard:    guardFor(filepath.Join(dir, locksDirName, "global.lock")),
		logger:   logging.ForModule(logger, "nsc", "operator", operator),
	}
}

// Dir returns the store directory.
func (d *Driver) Dir() string { return d.dir }

// Operator returns the operator name.
func (d *Driver) Operator() string { return d.operator }

// Guard exposes the store's Global Lock.
func (d *Driver) Guard() *Guard { return d.guard }

// Init creates the operator (with a system account) and an administrative
// account/user pair named after it. The store directory must exist and be
// empty apart from the locks directory and an ignore file. A failure after
// the operator was created empties the store again while the lock is still
// held; a failure to acquire the lock leaves the directory untouched.
func (d *Driver) Init(ctx context.Context) error {
	if _, err := os.Stat(d.dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("store directory %s: %w", d.dir, common.ErrorNotFound)
		}
		return err
	}
	if err := d.checkEmpty(); err != nil {
		return err
	}

	err := d.guard.Do(ctx, func(ctx context.Context) error {
		// another process may have initialized the store while we waited
		if err := d.checkEmpty(); err != nil {
			return err
		}
		err := d.createOperator(ctx)
		if err == nil {
			return nil
		}
		if cleanupErr := d.cleanup(); cleanupErr != nil {
			d.logger.Error(ctx, "store cleanup failed", "error", cleanupErr)
			return &common.CompensatedError{Err: err, CompensateErr: cleanupErr}
		}
		return err
	})
	if err != nil {
		return err
	}

	d.logger.Info(ctx, "credential store initialized", "dir", d.dir)
	return nil
}

func (d *Driver) checkEmpty() error {
	initialized, err := d.IsInitialized()
	if err != nil {
		return err
	}
	if initialized {
		return fmt.Errorf("store directory %s is not empty: %w", d.dir, common.ErrorAlreadyInitialized)
	}
	return nil
}

func (d *Driver) createOperator(ctx context.Context) error {
	if _, err := d.run(ctx, false, "add", "operator", d.operator, "--sys"); err != nil {
		return err
	}
	_, err := d.addAccount(ctx, d.operator, false)
	return err
}

// IsInitialized reports whether the store directory holds anything besides
// the locks directory and an ignore file.
func (d *Driver) IsInitialized() (bool, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	for _, e := range entries {
		if !keptOnCleanup(e.Name()) {
			return true, nil
		}
	}
	return false, nil
}

// Cleanup empties the store directory under the lock. The locks directory
// and the ignore file are kept, so the lock file other processes wait on
// stays the same inode.
func (d *Driver) Cleanup(ctx context.Context) error {
	return d.guard.Do(ctx, func(ctx context.Context) error {
		return d.cleanup()
	})
}

func (d *Driver) cleanup() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.MkdirAll(d.dir, 0o770)
		}
		return err
	}
	for _, e := range entries {
		if keptOnCleanup(e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(d.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func keptOnCleanup(name string) bool {
	return name == locksDirName || name == ignoreFile
}

// SetAccountTokenServerURL points the operator at the broker's account
// resolver.
func (d *Driver) SetAccountTokenServerURL(ctx context.Context, url string) error {
	return d.guard.Do(ctx, func(ctx context.Context) error {
		_, err := d.run(ctx, true, "edit", "operator", "--account-jwt-server-url", url)
		return err
	})
}

// AddAccount creates an account with wildcard publish/subscribe defaults,
// JetStream disabled and an administrative user of the same name, then pushes
// it to the resolver when sync is set. It returns the account's identifier.
// An account whose token already exists is returned as is.
func (d *Driver) AddAccount(ctx context.Context, name string, sync bool) (string, error) {
	var id string
	err := d.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		id, err = d.addAccount(ctx, name, sync)
		return err
	})
	return id, err
}

func (d *Driver) addAccount(ctx context.Context, name string, sync bool) (string, error) {
	if d.TokenExists(KindAccount, name, "") {
		return d.subject(KindAccount, name, "")
	}

	id, err := d.createAccount(ctx, name, sync)
	if err != nil {
		err = fmt.Errorf("failed to create account %s: %w", name, err)
		return "", d.compensate(ctx, err, "delete account "+name, func(ctx context.Context) error {
			return d.deleteAccount(ctx, name)
		})
	}
	return id, nil
}

func (d *Driver) createAccount(ctx context.Context, name string, sync bool) (string, error) {
	if _, err := d.run(ctx, true, "add", "account", name); err != nil {
		return "", err
	}
	if _, err := d.run(ctx, true,
		"edit", "account",
		"--name", name,
		"--allow-pubsub", ">",
		"--allow-pub-response=-1",
		"--js-enable=0",
	); err != nil {
		return "", err
	}

	if _, err := d.addUser(ctx, name, name, []string{">"}, []string{">"}); err != nil {
		return "", err
	}

	if sync {
		if err := d.pushAccount(ctx, name); err != nil {
			return "", err
		}
	}
	return d.subject(KindAccount, name, "")
}

// AccountExists asks the tool whether the account is known.
func (d *Driver) AccountExists(ctx context.Context, name string) bool {
	_, err := d.run(ctx, true, "describe", "account", name)
	return err == nil
}

// PushAccount publishes the account token to the resolver.
func (d *Driver) PushAccount(ctx context.Context, name string) error {
	return d.guard.Do(ctx, func(ctx context.Context) error {
		return d.pushAccount(ctx, name)
	})
}

func (d *Driver) pushAccount(ctx context.Context, name string) error {
	_, err := d.run(ctx, true, "push", "-a", name)
	return err
}

// RevokeAccountFromResolver removes the account from the resolver.
func (d *Driver) RevokeAccountFromResolver(ctx context.Context, name string) error {
	return d.guard.Do(ctx, func(ctx context.Context) error {
		_, err := d.run(ctx, true, "push", "-R", name)
		return err
	})
}

// DeleteAccount removes the account from the resolver and then from the
// store. A missing account token is a successful no-op. Callers using it as
// compensation treat the returned error as non-fatal.
func (d *Driver) DeleteAccount(ctx context.Context, name string) error {
	return d.guard.Do(ctx, func(ctx context.Context) error {
		return d.deleteAccount(ctx, name)
	})
}

func (d *Driver) deleteAccount(ctx context.Context, name string) error {
	if !d.TokenExists(KindAccount, name, "") {
		return nil
	}
	if _, err := d.run(ctx, true, "push", "-R", name); err != nil {
		return err
	}
	_, err := d.run(ctx, true, "delete", "account", name)
	return err
}

// AddUser creates the user inside an existing account when it does not exist
// yet and sets its permissions to exactly pub/sub. It returns the user's
// identifier. On failure a partially created user is removed without a
// resolver revocation.
func (d *Driver) AddUser(ctx context.Context, accountName, userName string, pub, sub []string) (string, error) {
	if err := validateSubjects(pub, sub); err != nil {
		return "", err
	}
	var id string
	err := d.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		id, err = d.addUser(ctx, accountName, userName, pub, sub)
		return err
	})
	return id, err
}

func (d *Driver) addUser(ctx context.Context, accountName, userName string, pub, sub []string) (string, error) {
	if !d.AccountExists(ctx, accountName) {
		return "", fmt.Errorf("account %s: %w", accountName, common.ErrorNotFound)
	}

	id, err := d.createUser(ctx, accountName, userName, pub, sub)
	if err != nil {
		return "", d.compensate(ctx, err, "delete user "+userName, func(ctx context.Context) error {
			return d.deleteUser(ctx, accountName, userName, false)
		})
	}
	return id, nil
}

func (d *Driver) createUser(ctx context.Context, accountName, userName string, pub, sub []string) (string, error) {
	if !d.UserExists(ctx, accountName, userName) {
		if _, err := d.run(ctx, true,
			"add", "user", userName,
			"--account", accountName,
			"--allow-pub-response=-1",
		); err != nil {
			return "", err
		}
	}

	if err := d.updateUserPermissions(ctx, accountName, userName, pub, sub); err != nil {
		return "", err
	}
	return d.subject(KindUser, accountName, userName)
}

// UserExists asks the tool whether the user is known in the account.
func (d *Driver) UserExists(ctx context.Context, accountName, userName string) bool {
	_, err := d.run(ctx, true, "describe", "user", userName, "--account", accountName)
	return err == nil
}

// UpdateUserPermissions replaces the user's subject permissions with exactly
// pub/sub.
//
// The tool has no replace primitive, so every subject currently allowed or
// denied is removed in one edit and the new allow rules are added in a second.
// A failure between the two leaves the user without permissions; calling
// again with the same lists converges.
func (d *Driver) UpdateUserPermissions(ctx context.Context, accountName, userName string, pub, sub []string) error {
	if err := validateSubjects(pub, sub); err != nil {
		return err
	}
	return d.guard.Do(ctx, func(ctx context.Context) error {
		return d.updateUserPermissions(ctx, accountName, userName, pub, sub)
	})
}

func (d *Driver) updateUserPermissions(ctx context.Context, accountName, userName string, pub, sub []string) error {
	claims, err := d.Decode(KindUser, accountName, userName)
	if err != nil {
		return err
	}

	perms := claims.Nats
	all := uniqueSubjects(
		perms.Pub.Allow, perms.Pub.Deny,
		perms.Sub.Allow, perms.Sub.Deny,
		pub, sub,
	)

	if len(all) > 0 {
		if _, err := d.run(ctx, true,
			"edit", "user", userName,
			"-a", accountName,
			"--rm", strings.Join(all, ","),
		); err != nil {
			return err
		}
	}

	if len(pub) == 0 && len(sub) == 0 {
		return nil
	}

	args := []string{"edit", "user", userName, "-a", accountName}
	if len(pub) > 0 {
		args = append(args, "--allow-pub", strings.Join(pub, ","))
	}
	if len(sub) > 0 {
		args = append(args, "--allow-sub", strings.Join(sub, ","))
	}
	_, err = d.run(ctx, true, args...)
	return err
}

// DeleteUser removes the user's token, credentials and keys, optionally
// recording a revocation for it in the account. A missing user token is a
// successful no-op.
func (d *Driver) DeleteUser(ctx context.Context, accountName, userName string, revoke bool) error {
	return d.guard.Do(ctx, func(ctx context.Context) error {
		return d.deleteUser(ctx, accountName, userName, revoke)
	})
}

func (d *Driver) deleteUser(ctx context.Context, accountName, userName string, revoke bool) error {
	if !d.TokenExists(KindUser, accountName, userName) {
		return nil
	}

	args := []string{
		"delete", "user", userName,
		"--account", accountName,
		"--rm-creds",
		"--rm-nkey",
	}
	if revoke {
		args = append(args, "--revoke")
	}
	_, err := d.run(ctx, true, args...)
	return err
}

// RevokeUser adds the user's identifier to the account revocation list.
func (d *Driver) RevokeUser(ctx context.Context, accountName, userName string) error {
	return d.guard.Do(ctx, func(ctx context.Context) error {
		return d.revocation(ctx, "add-user", accountName, userName)
	})
}

// RemoveUserRevocation drops the user's identifier from the account
// revocation list.
func (d *Driver) RemoveUserRevocation(ctx context.Context, accountName, userName string) error {
	return d.guard.Do(ctx, func(ctx context.Context) error {
		return d.revocation(ctx, "delete-user", accountName, userName)
	})
}

func (d *Driver) revocation(ctx context.Context, action, accountName, userName string) error {
	if !d.TokenExists(KindUser, accountName, userName) {
		return nil
	}
	claims, err := d.Decode(KindUser, accountName, userName)
	if err != nil {
		return err
	}
	if claims.Subject == "" {
		return nil
	}
	_, err = d.run(ctx, true,
		"revocations", action,
		"--account", accountName,
		"--user-public-key", claims.Subject,
	)
	return err
}

// compensate runs a best-effort undo after err. A failing undo is logged and
// attached to the returned error; it never replaces err.
func (d *Driver) compensate(ctx context.Context, err error, what string, undo func(ctx context.Context) error) error {
	undoErr := undo(ctx)
	if undoErr == nil {
		return err
	}
	d.logger.Warn(ctx, "compensation failed", "action", what, "error", undoErr, "cause", err)
	return &common.CompensatedError{Err: err, CompensateErr: undoErr}
}

func (d *Driver) subject(kind Kind, accountName, userName string) (string, error) {
	claims, err := d.Decode(kind, accountName, userName)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// run invokes the tool against this store. Unless setOperator is false the
// operator is selected first, since the tool keeps the selection globally.
func (d *Driver) run(ctx context.Context, setOperator bool, args ...string) (string, error) {
	if setOperator {
		if _, err := d.runner.Run(ctx, "select", "operator", d.operator, "--all-dirs", d.dir); err != nil {
			var toolErr *common.ExternalToolError
			if errors.As(err, &toolErr) {
				toolErr.Stderr = fmt.Sprintf("Failed to select operator %s: %s", d.operator, toolErr.Stderr)
				return "", toolErr
			}
			return "", fmt.Errorf("failed to select operator %s: %w", d.operator, err)
		}
	}

	full := append(append([]string{}, args...), "--all-dirs", d.dir)
	out, err := d.runner.Run(ctx, full...)
	if err != nil {
		d.logger.Debug(ctx, "nsc command failed", "args", strings.Join(args, " "), "error", err)
		return "", err
	}
	return out, nil
}

// ValidateSubject rejects subjects the tool would split or mangle: subject
// lists are passed to it comma-separated.
func ValidateSubject(subject string) error {
	if subject == "" {
		return common.Validationf("subject is empty")
	}
	if strings.ContainsFunc(subject, func(r rune) bool { return r == ',' || unicode.IsSpace(r) }) {
		return common.Validationf("subject %q must not contain commas or whitespace", subject)
	}
	return nil
}

func validateSubjects(lists ...[]string) error {
	for _, list := range lists {
		for _, subject := range list {
			if err := ValidateSubject(subject); err != nil {
				return err
			}
		}
	}
	return nil
}

// uniqueSubjects flattens lists keeping first-seen order.
func uniqueSubjects(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
