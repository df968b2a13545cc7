package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kvinwang/gpt-prover/pkg/api"
	"github.com/kvinwang/gpt-prover/pkg/client"
	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/policy"
	"github.com/kvinwang/gpt-prover/pkg/prover"
)

const defaultURL = "http://localhost:8080"

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

// clientFlags are shared by every command that talks to a server.
type clientFlags struct {
	url     string
	keyPath string
	timeout time.Duration
}

func (c *clientFlags) register(fs *flag.FlagSet) {
	url := os.Getenv("PROVER_URL")
	if url == "" {
		url = defaultURL
	}
	fs.StringVar(&c.url, "url", url, "Prover base URL (env PROVER_URL)")
	fs.StringVar(&c.keyPath, "key", os.Getenv("PROVER_KEY"), "Caller key file written by keygen (env PROVER_KEY)")
	fs.DurationVar(&c.timeout, "timeout", 30*time.Second, "Request timeout")
}

func (c *clientFlags) client() (*client.Client, error) {
	var opts []client.Option
	if c.keyPath != "" {
		key, err := readCallerKey(c.keyPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithCallerKey(key))
	}
	return client.New(c.url, opts...), nil
}

func (c *clientFlags) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

// codeSource resolves --file / --code into script bytes.
type codeSource struct {
	file string
	code string
}

func (c *codeSource) register(fs *flag.FlagSet) {
	fs.StringVar(&c.file, "file", "", "Read the script from a file")
	fs.StringVar(&c.code, "code", "", "Script source given inline")
}

func (c *codeSource) read() ([]byte, error) {
	switch {
	case c.file != "" && c.code != "":
		return nil, errors.New("use either --file or --code, not both")
	case c.file != "":
		return os.ReadFile(c.file)
	case c.code != "":
		return []byte(c.code), nil
	default:
		return nil, errors.New("one of --file or --code is required")
	}
}

// hashFrom resolves --hash or, failing that, the hash of --file / --code.
func hashFrom(hash string, src *codeSource) (crypto.Hash, error) {
	if hash != "" {
		return crypto.ParseHash(hash)
	}
	code, err := src.read()
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("%w (or pass --hash)", err)
	}
	return crypto.HashCode(code), nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func fail(stderr io.Writer, err error) int {
	var problem *api.ProblemDetail
	if errors.As(err, &problem) {
		_, _ = fmt.Fprintf(stderr, "Error: %s (%d %s)\n", problem.Detail, problem.Status, problem.Code)
		return 1
	}
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func printJSON(w io.Writer, v interface{}) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fail(w, err)
	}
	_, _ = fmt.Fprintln(w, string(data))
	return 0
}

func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	out := fs.String("out", "", "Path of the key file to create (REQUIRED)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *out == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --out is required")
		fs.Usage()
		return 2
	}
	if _, err := os.Stat(*out); err == nil {
		return fail(stderr, fmt.Errorf("%s already exists", *out))
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return fail(stderr, err)
	}
	if err := writeSeed(*out, seed); err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintln(stdout, crypto.AccountOf(ed25519.NewKeyFromSeed(seed)).Hex())
	return 0
}

func runHashCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("hash", stderr)
	var src codeSource
	src.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	code, err := src.read()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, crypto.HashCode(code).Hex())
	return 0
}

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("health", stderr)
	var cf clientFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	c, err := cf.client()
	if err != nil {
		return fail(stderr, err)
	}
	ctx, cancel := cf.context()
	defer cancel()

	h, err := c.Health(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	return printJSON(stdout, h)
}

func runPubKeyCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("pubkey", stderr)
	var cf clientFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	c, err := cf.client()
	if err != nil {
		return fail(stderr, err)
	}
	ctx, cancel := cf.context()
	defer cancel()

	pub, err := c.PubKey(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "0x%x\n", pub)
	return 0
}

func runConfigCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("config", stderr)
	var cf clientFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	c, err := cf.client()
	if err != nil {
		return fail(stderr, err)
	}
	ctx, cancel := cf.context()
	defer cancel()

	cfg, err := c.Settings(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	return printJSON(stdout, cfg)
}

func runRunCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("run", stderr)
	var cf clientFlags
	var src codeSource
	var scriptArgs stringList
	cf.register(fs)
	src.register(fs)
	fs.Var(&scriptArgs, "arg", "Script argument (repeatable)")
	secret := fs.String("secret", "", "Explicit secret, overriding the policy's secret")
	seal := fs.Bool("seal", false, "Seal --secret to the instance before sending it")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	code, err := src.read()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	secretSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "secret" {
			secretSet = true
		}
	})
	if *seal && !secretSet {
		_, _ = fmt.Fprintln(stderr, "Error: --seal needs --secret")
		return 2
	}

	c, err := cf.client()
	if err != nil {
		return fail(stderr, err)
	}
	ctx, cancel := cf.context()
	defer cancel()

	req := api.RunRequest{Code: string(code), Args: scriptArgs}
	switch {
	case *seal:
		req.SealedSecret, err = c.SealSecret(ctx, *secret)
		if err != nil {
			return fail(stderr, err)
		}
	case secretSet:
		req.Secret = secret
	}

	out, err := c.Run(ctx, req)
	if err != nil {
		return fail(stderr, err)
	}
	return printJSON(stdout, out)
}

func runRunURLCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("run-url", stderr)
	var cf clientFlags
	var scriptArgs stringList
	cf.register(fs)
	scriptURL := fs.String("script-url", "", "URL of the script to fetch (REQUIRED)")
	fs.Var(&scriptArgs, "arg", "Script argument (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *scriptURL == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --script-url is required")
		return 2
	}
	c, err := cf.client()
	if err != nil {
		return fail(stderr, err)
	}
	ctx, cancel := cf.context()
	defer cancel()

	out, err := c.RunURL(ctx, *scriptURL, scriptArgs)
	if err != nil {
		return fail(stderr, err)
	}
	return printJSON(stdout, out)
}

func runAskCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("ask", stderr)
	var cf clientFlags
	cf.register(fs)
	model := fs.String("model", prover.ModelGPT35, "Chat model to ask")
	prompt := fs.String("prompt", "", "Prompt to send (REQUIRED)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *prompt == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --prompt is required")
		return 2
	}
	c, err := cf.client()
	if err != nil {
		return fail(stderr, err)
	}
	ctx, cancel := cf.context()
	defer cancel()

	out, err := c.Ask(ctx, *model, *prompt)
	if err != nil {
		return fail(stderr, err)
	}
	return printJSON(stdout, out)
}

// adminCommand parses the common flags plus extra, then runs op.
func adminCommand(name string, args []string, stdout, stderr io.Writer, extra func(fs *flag.FlagSet), op func(ctx context.Context, c *client.Client) error) int {
	fs := newFlagSet(name, stderr)
	var cf clientFlags
	cf.register(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if cf.keyPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: admin commands need --key (or PROVER_KEY)")
		return 2
	}
	c, err := cf.client()
	if err != nil {
		return fail(stderr, err)
	}
	ctx, cancel := cf.context()
	defer cancel()

	if err := op(ctx, c); err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}

func runTransferOwnershipCmd(args []string, stdout, stderr io.Writer) int {
	var to string
	return adminCommand("transfer-ownership", args, stdout, stderr,
		func(fs *flag.FlagSet) { fs.StringVar(&to, "to", "", "New owner account (0x hex)") },
		func(ctx context.Context, c *client.Client) error {
			owner, err := crypto.ParseAccountID(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			return c.TransferOwnership(ctx, owner)
		})
}

func runUpdateConfigCmd(args []string, stdout, stderr io.Writer) int {
	var path string
	return adminCommand("update-config", args, stdout, stderr,
		func(fs *flag.FlagSet) { fs.StringVar(&path, "policy", "", "Policy document (JSON file)") },
		func(ctx context.Context, c *client.Client) error {
			if path == "" {
				return errors.New("--policy is required")
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			p, err := policy.Unmarshal(raw)
			if err != nil {
				return err
			}
			return c.UpdateConfig(ctx, p)
		})
}

func runUpdateSecretCmd(args []string, stdout, stderr io.Writer) int {
	var secret string
	return adminCommand("update-secret", args, stdout, stderr,
		func(fs *flag.FlagSet) { fs.StringVar(&secret, "secret", "", "New whitelist secret") },
		func(ctx context.Context, c *client.Client) error {
			return c.UpdateSecret(ctx, secret)
		})
}

func runAllowCmd(args []string, stdout, stderr io.Writer) int {
	var hash string
	var src codeSource
	return adminCommand("allow", args, stdout, stderr,
		func(fs *flag.FlagSet) {
			fs.StringVar(&hash, "hash", "", "Code hash to allow (0x hex)")
			src.register(fs)
		},
		func(ctx context.Context, c *client.Client) error {
			h, err := hashFrom(hash, &src)
			if err != nil {
				return err
			}
			return c.AllowCodeHash(ctx, h)
		})
}

func runSetSecretCmd(args []string, stdout, stderr io.Writer) int {
	var hash, secret string
	var src codeSource
	return adminCommand("set-secret", args, stdout, stderr,
		func(fs *flag.FlagSet) {
			fs.StringVar(&hash, "hash", "", "Code hash (0x hex)")
			fs.StringVar(&secret, "secret", "", "Secret for that code hash")
			src.register(fs)
		},
		func(ctx context.Context, c *client.Client) error {
			h, err := hashFrom(hash, &src)
			if err != nil {
				return err
			}
			return c.SetSecret(ctx, h, secret)
		})
}

func runUpdateAPIURLCmd(args []string, stdout, stderr io.Writer) int {
	var apiURL string
	return adminCommand("update-api-url", args, stdout, stderr,
		func(fs *flag.FlagSet) { fs.StringVar(&apiURL, "api-url", "", "Chat completions endpoint") },
		func(ctx context.Context, c *client.Client) error {
			if apiURL == "" {
				return errors.New("--api-url is required")
			}
			return c.UpdateAPIURL(ctx, apiURL)
		})
}

func runUpdateAPIKeyCmd(args []string, stdout, stderr io.Writer) int {
	var key string
	return adminCommand("update-api-key", args, stdout, stderr,
		func(fs *flag.FlagSet) { fs.StringVar(&key, "api-key", os.Getenv("PROVER_API_KEY"), "Chat API key (env PROVER_API_KEY)") },
		func(ctx context.Context, c *client.Client) error {
			return c.UpdateAPIKey(ctx, key)
		})
}
