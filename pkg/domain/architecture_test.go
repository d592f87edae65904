package domain

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// allowedThirdParty lists the non-stdlib imports the domain layer may use.
var allowedThirdParty = map[string]struct{}{
	"github.com/shopspring/decimal": {},
}

// TestDomainImportsStayPure keeps the domain layer free of internal packages
// and of third-party dependencies beyond the allowlist.
func TestDomainImportsStayPure(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("cannot get working dir: %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(wd, "*.go"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}

	fset := token.NewFileSet()
	for _, path := range matches {
		if strings.HasSuffix(path, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse %s: %v", path, err)
		}
		for _, spec := range file.Imports {
			imp, err := strconv.Unquote(spec.Path.Value)
			if err != nil {
				t.Fatalf("unquote import in %s: %v", path, err)
			}
			if strings.Contains(imp, "/internal/") || strings.HasPrefix(imp, "bidflow/") {
				t.Errorf("domain must not import %s (%s)", imp, filepath.Base(path))
				continue
			}
			if !strings.Contains(strings.SplitN(imp, "/", 2)[0], ".") {
				continue
			}
			if _, ok := allowedThirdParty[imp]; !ok {
				t.Errorf("domain imports non-allowlisted dependency %s (%s)", imp, filepath.Base(path))
			}
		}
	}
}
