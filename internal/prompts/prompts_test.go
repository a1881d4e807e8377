package prompts

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/statement-analyzer/internal/statement"
)

func TestStatementReader_ListsEveryEnumValue(t *testing.T) {
	p := StatementReader()

	for _, c := range statement.CategoryNames() {
		assert.Contains(t, p, c)
	}
	for _, a := range statement.AccountNames() {
		assert.Contains(t, p, a)
	}
	assert.NotContains(t, p, "{{")
}

func TestStatementReader_CoreRules(t *testing.T) {
	p := StatementReader()

	for _, want := range []string{"HKD", "DCC", "YYYY-MM-DD", "cross check", "Payment credits"} {
		assert.Contains(t, p, want)
	}
	assert.Contains(t, p, "Only Cloud Services can be categorized under Business")
}

func TestEveryCategoryHasExampleHeading(t *testing.T) {
	p := StatementReader()
	for _, c := range statement.CategoryNames() {
		if c == string(statement.CategoryOthers) {
			continue
		}
		assert.True(t, strings.Contains(p, "### "+c), c)
	}
}

func TestRetry(t *testing.T) {
	p := Retry(errors.New(`transaction 3: invalid category "Food"`))
	assert.Contains(t, p, `invalid category "Food"`)
}

func TestVersionSet(t *testing.T) {
	assert.NotEmpty(t, Version)
}
