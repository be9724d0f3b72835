//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed for 300 frames on the configured backend.
func (Run) Testbed() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run testbed...")
	if _, err := executeCmd("go", withArgs("run", ".", "-frames", "300"), withCgo(), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the testbed on the null backend, no GPU required.
func (Run) Null() error {
	if _, err := executeCmd("go", withArgs("run", ".", "-backend", "null", "-frames", "120"), withStream()); err != nil {
		return err
	}
	return nil
}
