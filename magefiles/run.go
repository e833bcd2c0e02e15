//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the headless testbed with the default configuration.
func (Run) Testbed() error {
	fmt.Println("Run testbed...")
	_, err := executeCmd("go", withArgs("run", ".", "halcyon.toml"), withStream())
	return err
}

// Runs the test suite with the race detector on.
func (Run) Tests() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream())
	return err
}

// Vets every package.
func (Run) Lint() error {
	_, err := executeCmd("go", withArgs("vet", "./..."), withStream())
	return err
}
