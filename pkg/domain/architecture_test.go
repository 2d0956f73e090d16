package domain

import (
	"testing"

	"optimus/internal/testutil"
)

// TestDomainImportsStdlibOnly keeps the domain layer free of internal and
// third-party packages so every adapter can depend on it.
func TestDomainImportsStdlibOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.Any(testutil.ThirdPartyImport, testutil.ModuleImportExcept()),
		"domain must only import the standard library")
}
