// Package validation provides validation functionality for struct tag
// fields such as "binding", used in Gin/Validator.
package validation

import (
	"reflect"

	"github.com/pkg/errors"
	"gopkg.in/go-playground/validator.v8"

	"gitlab.com/arcanecrypto/hashgate/build"
	"gitlab.com/arcanecrypto/hashgate/hbar"
)

var log = build.AddSubLogger("VLDN")

const (
	accountid = "accountid"
	txid      = "txid"
)

// isValidAccountID checks that a field parses as a shard.realm.num
// Hedera account ID.
func isValidAccountID(
	_ *validator.Validate, _ reflect.Value, _ reflect.Value,
	field reflect.Value, _ reflect.Type, _ reflect.Kind, _ string) bool {
	_, err := hbar.ParseAccountID(field.String())
	return err == nil
}

// isValidTransactionID checks that a field parses as a Hedera
// transaction ID, in either the payer@seconds.nanos or the mirror node
// payer-seconds-nanos form.
func isValidTransactionID(
	_ *validator.Validate, _ reflect.Value, _ reflect.Value,
	field reflect.Value, _ reflect.Type, _ reflect.Kind, _ string) bool {
	_, err := hbar.ParseTransactionID(field.String())
	return err == nil
}

// registerValidator registers a validator in our validation engine with the
// given name.
func registerValidator(engine *validator.Validate, name string, function validator.Func) error {
	err := engine.RegisterValidation(name, function)
	if err != nil {
		return errors.Wrapf(err, "could not register %q validation", name)
	}
	return nil
}

// RegisterAllValidators registers all known validators to the Validator engine,
// quitting if this results in an error. This function should typically be
// called at startup.
func RegisterAllValidators(engine *validator.Validate) []string {
	type Validator struct {
		Name     string
		Function validator.Func
	}
	validators := []Validator{
		{
			Name:     accountid,
			Function: isValidAccountID,
		},
		{
			Name:     txid,
			Function: isValidTransactionID,
		},
	}
	names := make([]string, len(validators))
	for i, elem := range validators {
		names[i] = elem.Name
		if err := registerValidator(engine, elem.Name, elem.Function); err != nil {
			log.Fatalf("Fatal error during validation registration: %s", err)
		}
	}
	return names
}
