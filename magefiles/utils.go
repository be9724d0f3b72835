//go:build mage

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

type cmdOptions struct {
	args   []string
	env    map[string]string
	stream bool
}

type cmdOption func(*cmdOptions)

func withArgs(args ...string) cmdOption {
	return func(o *cmdOptions) {
		o.args = args
	}
}

// withEnv adds one variable to the command environment.
func withEnv(key, value string) cmdOption {
	return func(o *cmdOptions) {
		if o.env == nil {
			o.env = make(map[string]string)
		}
		o.env[key] = value
	}
}

func withStream() cmdOption {
	return func(o *cmdOptions) {
		o.stream = true
	}
}

// goki/vulkan links against the loader through cgo.
func withCgo() cmdOption {
	return withEnv("CGO_ENABLED", "1")
}

func executeCmd(command string, options ...cmdOption) (string, error) {
	opts := &cmdOptions{}
	for _, o := range options {
		o(opts)
	}

	fmt.Printf("Executing: %s %s\n", command, strings.Join(opts.args, " "))
	streamOutput := mg.Verbose() || opts.stream

	var b bytes.Buffer
	var stdout, stderr io.Writer = &b, &b
	if streamOutput {
		stdout = io.MultiWriter(&b, os.Stdout)
		stderr = io.MultiWriter(&b, os.Stderr)
	}
	ran, err := sh.Exec(opts.env, stdout, stderr, command, opts.args...)
	if err != nil {
		if ran && !streamOutput {
			fmt.Println("... failed command output:")
			fmt.Println(b.String())
		}
		return "", fmt.Errorf("error executing %s: %w", command, err)
	}
	return b.String(), nil
}
