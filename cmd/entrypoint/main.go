package main

import (
	"errors"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	appconfig "netops/config"
)

// A tiny entrypoint that loads the env file, applies defaults and then runs
// the backend binary, forwarding signals to it and exiting with its code.
func main() {
	if err := appconfig.LoadEnvFile(os.Getenv("ENV_FILE")); err != nil {
		log.Printf("⚠️  could not load env file: %v", err)
	}

	if os.Getenv("PORT") == "" {
		_ = os.Setenv("PORT", "8001")
	}

	// Optional startup delay for orchestrators that check health too early
	if delay := os.Getenv("STARTUP_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil && d > 0 {
			log.Printf("Applying startup delay: %v", d)
			time.Sleep(d)
		}
	}

	target := os.Getenv("BACKEND_BINARY")
	if target == "" {
		target = "/app/app"
	}

	os.Exit(run(target, os.Args[1:]))
}

// run starts target and relays SIGINT/SIGTERM/SIGHUP to it until it exits
func run(target string, args []string) int {
	cmd := exec.Command(target, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		log.Printf("failed to start %s: %v", target, err)
		return 127
	}

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	for {
		select {
		case sig := <-sigs:
			_ = cmd.Process.Signal(sig)
		case err := <-done:
			return exitCode(err)
		}
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}
