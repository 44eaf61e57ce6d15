// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/gatekeeper/lib/gateway"
	"github.com/bureau-foundation/gatekeeper/lib/rpc"
	"github.com/bureau-foundation/gatekeeper/lib/secret"
	"github.com/bureau-foundation/gatekeeper/lib/version"
)

const defaultURL = "ws://127.0.0.1:8787/rpc"

// exitRPCError distinguishes a gateway-reported failure from a local one.
const exitRPCError = 2

type options struct {
	url          string
	secretFile   string
	promptSecret bool
	timeout      time.Duration
	verbose      bool
	method       string
	params       json.RawMessage
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, done, err := parseFlags(args, stdin, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if done {
		return 0
	}

	var sharedSecret *secret.Buffer
	switch {
	case opts.secretFile != "":
		sharedSecret, err = secret.Load(opts.secretFile, stdin)
	case opts.promptSecret:
		sharedSecret, err = promptForSecret(stderr)
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: reading secret: %v\n", err)
		return 1
	}
	if sharedSecret != nil {
		defer sharedSecret.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	err = call(ctx, opts, sharedSecret, stdout, stderr)
	var rpcError *rpc.Error
	if errors.As(err, &rpcError) {
		fmt.Fprintf(stderr, "error: %s\n", rpcError.Error())
		if rpcError.Details != nil {
			details, _ := json.Marshal(rpcError.Details)
			fmt.Fprintf(stderr, "details: %s\n", details)
		}
		return exitRPCError
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// parseFlags returns done=true when the invocation was fully handled
// (--help, --version).
func parseFlags(args []string, stdin io.Reader, stderr io.Writer) (options, bool, error) {
	opts := options{url: os.Getenv("GATEKEEPER_URL")}
	if opts.url == "" {
		opts.url = defaultURL
	}

	var showVersion bool
	flagSet := pflag.NewFlagSet("gatekeeper-call", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.url, "url", opts.url, "gateway WebSocket endpoint (env GATEKEEPER_URL)")
	flagSet.StringVar(&opts.secretFile, "secret-file", "", "file holding the shared secret (\"-\" for stdin)")
	flagSet.BoolVar(&opts.promptSecret, "prompt-secret", false, "read the shared secret from the terminal")
	flagSet.DurationVar(&opts.timeout, "timeout", 35*time.Minute, "overall deadline for the call")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "print the acknowledgement and session id to stderr")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return opts, true, nil
		}
		return opts, false, err
	}
	if showVersion {
		fmt.Fprintf(stderr, "gatekeeper-call %s\n", version.Info())
		return opts, true, nil
	}

	positional := flagSet.Args()
	if len(positional) < 1 || len(positional) > 2 {
		return opts, false, errors.New("usage: gatekeeper-call [flags] <method> [params-json | -]")
	}
	opts.method = positional[0]

	if len(positional) == 2 {
		if positional[1] == "-" && opts.secretFile == "-" {
			return opts, false, errors.New("stdin cannot supply both params and the secret")
		}
		params, err := readParams(positional[1], stdin)
		if err != nil {
			return opts, false, err
		}
		opts.params = params
	}
	return opts, false, nil
}

// readParams validates inline or stdin params as a JSON value.
func readParams(argument string, stdin io.Reader) (json.RawMessage, error) {
	data := []byte(argument)
	if argument == "-" {
		var err error
		data, err = io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading params from stdin: %w", err)
		}
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("params are not valid JSON: %s", data)
	}
	return json.RawMessage(data), nil
}

func promptForSecret(stderr io.Writer) (*secret.Buffer, error) {
	descriptor := int(os.Stdin.Fd())
	if !term.IsTerminal(descriptor) {
		return nil, errors.New("no terminal available for --prompt-secret (use --secret-file)")
	}
	fmt.Fprint(stderr, "Shared secret: ")
	entered, err := term.ReadPassword(descriptor)
	fmt.Fprintln(stderr)
	if err != nil {
		return nil, err
	}
	buffer, err := secret.NewFromBytes(bytes.TrimSpace(entered))
	secret.Zero(entered)
	return buffer, err
}

func call(ctx context.Context, opts options, sharedSecret *secret.Buffer, stdout, stderr io.Writer) error {
	clientConfig := gateway.ClientConfig{URL: opts.url}
	if sharedSecret != nil {
		clientConfig.Secret = sharedSecret.Bytes()
	}
	if opts.verbose {
		clientConfig.Logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	client, err := gateway.Dial(ctx, clientConfig)
	if err != nil {
		return err
	}
	defer client.Close()

	if opts.verbose {
		fmt.Fprintf(stderr, "session: %s\n", client.SessionID())
	}

	var params any
	if opts.params != nil {
		params = opts.params
	}
	reply, err := client.Call(ctx, opts.method, params)
	if err != nil {
		return err
	}
	if opts.verbose && reply.AckMessage != "" {
		fmt.Fprintf(stderr, "ack: %s\n", reply.AckMessage)
	}

	var formatted bytes.Buffer
	if err := json.Indent(&formatted, reply.Result, "", "  "); err != nil {
		_, err = fmt.Fprintf(stdout, "%s\n", reply.Result)
		return err
	}
	formatted.WriteByte('\n')
	_, err = formatted.WriteTo(stdout)
	return err
}
