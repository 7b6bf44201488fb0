// Command dtk is a CLI client for the discount token service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/doutorizze/discount-tokens/internal/model"
	grpcserver "github.com/doutorizze/discount-tokens/internal/server/grpc"
	"github.com/doutorizze/discount-tokens/internal/service"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	Subject     string    `json:"subject"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "doutorizze-tokens")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "doutorizze-tokens")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok, subject string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, Subject: subject, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run mint)")
	}
	return tf.AccessToken, nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token     string
	plaintext bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return !b.plaintext }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // dev flag
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

type dialOpts struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
}

func dial(o dialOpts, bearer string) (*grpc.ClientConn, *grpcserver.Client, error) {
	var creds credentials.TransportCredentials
	if o.plaintext {
		creds = insecure.NewCredentials()
	} else {
		var err error
		if creds, err = loadTLS(o.caPath, o.skipVerify); err != nil {
			return nil, nil, err
		}
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, plaintext: o.plaintext}))
	}
	cc, err := grpc.NewClient(o.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, grpcserver.NewClient(cc), nil
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// thousandsOnly matches dotted thousands without decimals, e.g. "1.234" or "12.345.678".
var thousandsOnly = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)

// parseAmount accepts "200", "200.50" and the Brazilian "200,50" or "1.234".
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "R$"))
	switch {
	case strings.Count(s, ",") == 1:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case thousandsOnly.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad amount %q", s)
	}
	return d, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `dtk CLI
Usage:
  dtk -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  mint      -sub <user> -key <hs256 key> [-ttl 15m]     (saves token)
  types
  generate  -type <TIPO> [-user <id>] [-pct N] [-days N]
  validate  -code DESC-XXXX-XXXX
  use       -code DESC-XXXX-XXXX -amount 200,00 [-partner name]
  active
  all
  expiring  [-days 3]
  saved
  sweep
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	addr := flag.String("addr", "localhost:8443", "server addr")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	skipVerify := flag.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := flag.Bool("plaintext", false, "no TLS (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]
	o := dialOpts{addr: *addr, caPath: *caPath, skipVerify: *skipVerify, plaintext: *plaintext}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("dtk %s (%s)\n", version, buildDate)

	case "mint":
		fs := flag.NewFlagSet("mint", flag.ExitOnError)
		sub := fs.String("sub", "", "user id (token subject)")
		key := fs.String("key", os.Getenv("DT_JWT_KEY"), "HS256 signing key")
		ttl := fs.Duration("ttl", service.DefaultAccessTTL, "token TTL")
		_ = fs.Parse(args)
		if *sub == "" || *key == "" {
			fmt.Fprintln(os.Stderr, "need -sub and -key")
			os.Exit(1)
		}
		tok, exp, err := service.NewAuthService([]byte(*key), *ttl).IssueAccessToken(*sub)
		if err != nil {
			fail(err)
		}
		if err := saveToken(tok, *sub, exp); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "types":
		withClient(o, func(cli *grpcserver.Client) (any, error) {
			out, err := cli.ListTypes(ctx)
			if err != nil {
				return nil, err
			}
			return out.Types, nil
		})

	case "generate":
		fs := flag.NewFlagSet("generate", flag.ExitOnError)
		typ := fs.String("type", "", "token type (PRIMEIRO_USO, INDICACAO, PROMOCAO, FIDELIDADE, PARCEIRO)")
		user := fs.String("user", "", "owner (defaults to token subject)")
		pct := fs.Int("pct", 0, "discount percent (0 = type default)")
		days := fs.Int("days", 0, "validity in days (0 = type default)")
		_ = fs.Parse(args)
		if *typ == "" {
			fmt.Fprintln(os.Stderr, "need -type")
			os.Exit(1)
		}
		withClient(o, func(cli *grpcserver.Client) (any, error) {
			out, err := cli.Generate(ctx, &grpcserver.GenerateRequest{
				UserID:       *user,
				Type:         model.TokenType(strings.ToUpper(*typ)),
				Percent:      *pct,
				ValidityDays: *days,
			})
			if err != nil {
				return nil, err
			}
			return out.Token, nil
		})

	case "validate":
		fs := flag.NewFlagSet("validate", flag.ExitOnError)
		code := fs.String("code", "", "token code")
		_ = fs.Parse(args)
		if *code == "" {
			fmt.Fprintln(os.Stderr, "need -code")
			os.Exit(1)
		}
		withClient(o, func(cli *grpcserver.Client) (any, error) {
			return cli.Validate(ctx, &grpcserver.ValidateRequest{Code: *code})
		})

	case "use":
		fs := flag.NewFlagSet("use", flag.ExitOnError)
		code := fs.String("code", "", "token code")
		amount := fs.String("amount", "", "purchase amount")
		partner := fs.String("partner", "", "partner where it was used")
		_ = fs.Parse(args)
		if *code == "" || *amount == "" {
			fmt.Fprintln(os.Stderr, "need -code and -amount")
			os.Exit(1)
		}
		purchase, err := parseAmount(*amount)
		if err != nil {
			fail(err)
		}
		withClient(o, func(cli *grpcserver.Client) (any, error) {
			return cli.Use(ctx, &grpcserver.UseRequest{Code: *code, Purchase: purchase, Partner: *partner})
		})

	case "active":
		withClient(o, func(cli *grpcserver.Client) (any, error) {
			out, err := cli.ListActive(ctx)
			if err != nil {
				return nil, err
			}
			return out.Tokens, nil
		})

	case "all":
		withClient(o, func(cli *grpcserver.Client) (any, error) {
			out, err := cli.ListAll(ctx)
			if err != nil {
				return nil, err
			}
			return out.Tokens, nil
		})

	case "expiring":
		fs := flag.NewFlagSet("expiring", flag.ExitOnError)
		days := fs.Int("days", service.DefaultExpiringSoonDays, "days threshold")
		_ = fs.Parse(args)
		withClient(o, func(cli *grpcserver.Client) (any, error) {
			out, err := cli.ListExpiringSoon(ctx, *days)
			if err != nil {
				return nil, err
			}
			return out.Tokens, nil
		})

	case "saved":
		withClient(o, func(cli *grpcserver.Client) (any, error) {
			out, err := cli.TotalSaved(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]string{"economia_total": service.FormatBRL(out.Total)}, nil
		})

	case "sweep":
		withClient(o, func(cli *grpcserver.Client) (any, error) {
			out, err := cli.ExpireOld(ctx)
			if err != nil {
				return nil, err
			}
			return out.Tokens, nil
		})

	default:
		usage()
	}
}

// withClient loads the saved token, dials, runs call and prints its result.
func withClient(o dialOpts, call func(*grpcserver.Client) (any, error)) {
	token, err := loadToken()
	if err != nil {
		fail(err)
	}
	cc, cli, err := dial(o, token)
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	out, err := call(cli)
	if err != nil {
		fail(err)
	}
	printJSON(out)
}

// ---- helpers ----

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
