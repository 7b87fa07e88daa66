// Package authctl implements the operator commands: generating a signing key
// pair and minting a static token straight against the database.
package authctl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/dmitrijs2005/tenantguard/internal/flagx"
	"github.com/dmitrijs2005/tenantguard/internal/logging"
	"github.com/dmitrijs2005/tenantguard/internal/server"
	"github.com/dmitrijs2005/tenantguard/internal/server/auth"
	"github.com/dmitrijs2005/tenantguard/internal/server/auth/keystore"
	"github.com/dmitrijs2005/tenantguard/internal/server/config"
	"github.com/dmitrijs2005/tenantguard/internal/server/services"
	"github.com/dmitrijs2005/tenantguard/internal/shared"
)

const usage = `usage:
  authctl keygen [-out dir] [-bits n]
  authctl static-token -tenant N -user ID [-origin name] [server flags]`

// TokenIssuer is what static-token needs from the auth service.
type TokenIssuer interface {
	Authenticate(ctx context.Context, tenantID int64, identifier, secret string) (*services.ResolvedIdentity, error)
	IssueStaticToken(ctx context.Context, id *services.ResolvedIdentity, origin *string, ip string) (string, error)
}

var loadConfig = config.LoadConfig

// openIssuer boots the server stack without starting any listener.
var openIssuer = func(ctx context.Context, c *config.Config, stderr io.Writer) (TokenIssuer, func(), error) {
	app, err := server.BootstrapWithLogger(ctx, c, logging.NewJSONLogger(stderr, "error"))
	if err != nil {
		return nil, nil, err
	}
	return app.Auth, func() { _ = app.Close() }, nil
}

// Run executes one command and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "keygen":
		err = keygen(args[1:], stdout)
	case "static-token":
		err = staticToken(ctx, args[1:], stdout, stderr)
	case "-h", "--help", "help":
		fmt.Fprintln(stdout, usage)
		return 0
	default:
		err = fmt.Errorf("unknown command %q", args[0])
	}

	var uerr usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &uerr):
		fmt.Fprintln(stderr, err)
		fmt.Fprintln(stderr, usage)
		return 2
	default:
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func keygen(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	out := fs.String("out", ".", "directory for private.pem and public.pem")
	bits := fs.Int("bits", auth.DefaultKeyBits, "RSA key size")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}

	key, err := auth.GenerateKeyPair(*bits)
	if err != nil {
		return err
	}
	priv, pub, err := keystore.WriteFiles(*out, key)
	if err != nil {
		return fmt.Errorf("write keys: %w", err)
	}

	fmt.Fprintln(stdout, priv)
	fmt.Fprintln(stdout, pub)
	return nil
}

var staticTokenFlags = []string{"-tenant", "-user", "-origin"}

func staticToken(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("static-token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	tenant := fs.Int64("tenant", 0, "tenant (project) id")
	user := fs.String("user", "", "user identifier within the tenant")
	originFlag := fs.String("origin", "", "token origin label")
	if err := fs.Parse(flagx.FilterArgs(args, staticTokenFlags)); err != nil {
		return usageError{msg: err.Error()}
	}
	if *user == "" {
		return usageError{msg: "-user is required"}
	}

	var origin *string
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "origin" {
			origin = originFlag
		}
	})

	pw, err := getPassword(stderr)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	defer shared.WipeByteArray(pw)

	issuer, closeFn, err := openIssuer(ctx, loadConfig(), stderr)
	if err != nil {
		return err
	}
	defer closeFn()

	id, err := issuer.Authenticate(ctx, *tenant, *user, string(pw))
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			return errors.New("invalid credentials")
		}
		return err
	}

	token, err := issuer.IssueStaticToken(ctx, id, origin, "")
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, token)
	return nil
}
