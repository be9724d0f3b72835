//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

var shaders = []string{"triangle.vert", "triangle.frag"}

// Compiles the testbed GLSL shaders to SPIR-V for the Vulkan backend.
func (Build) Shaders() error {
	for _, s := range shaders {
		src := filepath.Join("testbed", "shaders", s)
		if _, err := executeCmd("glslc", withArgs(src, "-o", src+".spv"), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// Builds the engine and the testbed binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Building engine...")
	if _, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "prism"), "."), withCgo(), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs go mod tidy.
func (Build) Tidy() error {
	_, err := executeCmd("go", withArgs("mod", "tidy"))
	if err != nil {
		return fmt.Errorf("failed to run go mod tidy: %w", err)
	}
	return nil
}
