package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow replacing it in tests.
var startServer = runServe

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(stdout, stderr)
	case "keygen":
		return runKeygenCmd(args[2:], stdout, stderr)
	case "hash":
		return runHashCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "pubkey":
		return runPubKeyCmd(args[2:], stdout, stderr)
	case "config":
		return runConfigCmd(args[2:], stdout, stderr)
	case "run":
		return runRunCmd(args[2:], stdout, stderr)
	case "run-url":
		return runRunURLCmd(args[2:], stdout, stderr)
	case "ask":
		return runAskCmd(args[2:], stdout, stderr)
	case "transfer-ownership":
		return runTransferOwnershipCmd(args[2:], stdout, stderr)
	case "update-config":
		return runUpdateConfigCmd(args[2:], stdout, stderr)
	case "update-secret":
		return runUpdateSecretCmd(args[2:], stdout, stderr)
	case "allow":
		return runAllowCmd(args[2:], stdout, stderr)
	case "set-secret":
		return runSetSecretCmd(args[2:], stdout, stderr)
	case "update-api-url":
		return runUpdateAPIURLCmd(args[2:], stdout, stderr)
	case "update-api-key":
		return runUpdateAPIKeyCmd(args[2:], stdout, stderr)
	case "rotate-keystore":
		return runRotateKeystoreCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "gpt-prover: attested script execution")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  prover <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "SERVER")
	printCommand(w, "serve", "Run the prover HTTP server (default)")
	printCommand(w, "health", "Check server health")
	printCommand(w, "rotate-keystore", "Add a keystore key and reseal stored secrets (--data-dir, --reseal)")

	printSection(w, "EXECUTION")
	printCommand(w, "run", "Run a script and print the attestation (--file|--code, --arg, --secret, --seal)")
	printCommand(w, "run-url", "Fetch a script and run it (--script-url, --arg)")
	printCommand(w, "ask", "Ask the chat API and print the attestation (--model, --prompt)")
	printCommand(w, "pubkey", "Print the attestation public key")
	printCommand(w, "config", "Print owner, access policy and chat endpoint")

	printSection(w, "ADMINISTRATION")
	printCommand(w, "transfer-ownership", "Hand the instance to another account (--to)")
	printCommand(w, "update-config", "Replace the access policy (--policy file.json)")
	printCommand(w, "update-secret", "Replace the whitelist secret (--secret)")
	printCommand(w, "allow", "Whitelist a code hash (--hash|--file)")
	printCommand(w, "set-secret", "Set the secret of one code hash (--hash|--file, --secret)")
	printCommand(w, "update-api-url", "Set the chat API endpoint (--api-url)")
	printCommand(w, "update-api-key", "Set the chat API key (--api-key)")

	printSection(w, "UTILITIES")
	printCommand(w, "keygen", "Create a caller key (--out)")
	printCommand(w, "hash", "Print the code hash of a script (--file|--code)")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-20s %s\n", name, desc)
}
