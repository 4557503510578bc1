// Package testutils holds assertions shared by the package tests.
package testutils

import (
	"fmt"
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var resembleOpts = []cmp.Option{
	cmp.Exporter(func(reflect.Type) bool { return true }),
	cmpopts.EquateEmpty(),
}

// ShouldResemble is a deep equality assertion for test.That. Unexported
// fields are compared and nil slices equal empty ones.
func ShouldResemble(actual interface{}, expected ...interface{}) string {
	if len(expected) != 1 {
		return fmt.Sprintf("This assertion requires exactly 1 comparison value (you provided %d).", len(expected))
	}
	if diff := cmp.Diff(expected[0], actual, resembleOpts...); diff != "" {
		return "Expected values to resemble (-want +got):\n" + diff
	}
	return ""
}
