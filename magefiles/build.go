//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles every package in the module.
func (Build) All() error {
	_, err := executeCmd("go", withArgs("build", "./..."), withStream())
	return err
}

// Produces the headless testbed binary under bin/.
func (Build) Testbed() error {
	_, err := executeCmd("go", withArgs("build", "-o", "bin/testbed", "."), withStream())
	return err
}

// Refreshes go.mod and go.sum.
func (Build) Tidy() error {
	_, err := executeCmd("go", withArgs("mod", "tidy"), withStream())
	return err
}
