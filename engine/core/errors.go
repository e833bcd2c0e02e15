package core

import (
	"fmt"
)

// Errorf builds an error, logs it at the fault site and returns it. Device
// call failures and construction errors across the engine funnel through
// here so every fatal path leaves a trace before it propagates.
func Errorf(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	LogError("%s", err.Error())
	return err
}
